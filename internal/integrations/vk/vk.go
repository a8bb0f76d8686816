// Package vk reads recent wall photos of a VK community.
package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Larkinyegor/telegram-bot-bw/internal/task/engine"
)

const (
	DefaultBaseURL = "https://api.vk.com/method"
	DefaultVersion = "5.131"

	// wallDepth is how many recent posts are scanned for photos.
	wallDepth = 40
)

type APIError struct {
	Code int    `json:"error_code"`
	Msg  string `json:"error_msg"`
}

func (e *APIError) Error() string { return fmt.Sprintf("vk api error %d: %s", e.Code, e.Msg) }

type Option func(*Client)

func WithBaseURL(u string) Option { return func(c *Client) { c.base = strings.TrimRight(u, "/") } }

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

type Client struct {
	http    *http.Client
	base    string
	token   string
	version string
}

func New(token, version string, opts ...Option) *Client {
	if version == "" {
		version = DefaultVersion
	}
	c := &Client{http: &http.Client{Timeout: 15 * time.Second}, base: DefaultBaseURL, token: token, version: version}
	for _, o := range opts {
		o(c)
	}
	return c
}

type photoSize struct {
	Width int    `json:"width"`
	URL   string `json:"url"`
}

type wallResponse struct {
	Error    *APIError `json:"error"`
	Response struct {
		Items []struct {
			Attachments []struct {
				Type  string `json:"type"`
				Photo struct {
					Sizes []photoSize `json:"sizes"`
				} `json:"photo"`
			} `json:"attachments"`
		} `json:"items"`
	} `json:"response"`
}

// LatestPhotos returns up to count URLs of the widest size of each photo
// attached to the community's most recent posts, newest first.
func (c *Client) LatestPhotos(ctx context.Context, ownerID int64, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("owner_id", strconv.FormatInt(ownerID, 10))
	q.Set("count", strconv.Itoa(wallDepth))
	q.Set("access_token", c.token)
	q.Set("v", c.version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/wall.get?"+q.Encode(), nil)
	if err != nil {
		return nil, engine.NoRetry(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vk: %w", err)
	}
	defer resp.Body.Close()
	if err := engine.HTTPStatusError("vk", resp); err != nil {
		return nil, err
	}

	var wr wallResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, engine.NoRetry(fmt.Errorf("vk: decode: %w", err))
	}
	if wr.Error != nil {
		return nil, engine.NoRetry(wr.Error)
	}

	var out []string
	for _, item := range wr.Response.Items {
		for _, att := range item.Attachments {
			if att.Type != "photo" || len(att.Photo.Sizes) == 0 {
				continue
			}
			best := att.Photo.Sizes[0]
			for _, s := range att.Photo.Sizes[1:] {
				if s.Width > best.Width {
					best = s
				}
			}
			out = append(out, best.URL)
			if len(out) >= count {
				return out, nil
			}
		}
	}
	return out, nil
}
