// Package weather fetches today's forecast from the OpenWeather 5 day / 3 hour
// API and renders the short Russian summary used by the morning greeting.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/Larkinyegor/telegram-bot-bw/internal/task/engine"
)

const DefaultBaseURL = "https://api.openweathermap.org/data/2.5/forecast"

var (
	ErrNoForecast = errors.New("no forecast for today")
	ErrNoAPIKey   = errors.New("openweather api key is empty")
)

type Option func(*Client)

func WithBaseURL(u string) Option { return func(c *Client) { c.base = u } }

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

type Client struct {
	http   *http.Client
	base   string
	apiKey string
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{http: &http.Client{Timeout: 10 * time.Second}, base: DefaultBaseURL, apiKey: strings.TrimSpace(apiKey)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Summary is today's forecast reduced to what the greeting prints.
type Summary struct {
	City        string
	Temp        float64
	FeelsLike   float64
	Description string
	Wind        float64
	Min         float64
	Max         float64
}

type forecast struct {
	List []struct {
		DtTxt string `json:"dt_txt"`
		Main  struct {
			Temp      float64 `json:"temp"`
			FeelsLike float64 `json:"feels_like"`
			TempMin   float64 `json:"temp_min"`
			TempMax   float64 `json:"temp_max"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
	} `json:"list"`
}

// Today returns the summary of the forecast entries dated like now. The
// first matching entry stands for the current conditions.
func (c *Client) Today(ctx context.Context, city string, now time.Time) (Summary, error) {
	if c.apiKey == "" {
		return Summary{}, engine.NoRetry(ErrNoAPIKey)
	}
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	q.Set("lang", "ru")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"?"+q.Encode(), nil)
	if err != nil {
		return Summary{}, engine.NoRetry(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("openweather: %w", err)
	}
	defer resp.Body.Close()
	if err := engine.HTTPStatusError("openweather", resp); err != nil {
		return Summary{}, err
	}

	var fc forecast
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return Summary{}, engine.NoRetry(fmt.Errorf("openweather: decode: %w", err))
	}

	day := now.Format("2006-01-02")
	s := Summary{City: city, Min: math.Inf(1), Max: math.Inf(-1)}
	found := false
	for _, f := range fc.List {
		if !strings.HasPrefix(f.DtTxt, day) {
			continue
		}
		if !found {
			found = true
			s.Temp = f.Main.Temp
			s.FeelsLike = f.Main.FeelsLike
			s.Wind = f.Wind.Speed
			if len(f.Weather) > 0 {
				s.Description = capitalize(f.Weather[0].Description)
			}
		}
		s.Min = math.Min(s.Min, f.Main.TempMin)
		s.Max = math.Max(s.Max, f.Main.TempMax)
	}
	if !found {
		return Summary{}, engine.NoRetry(ErrNoForecast)
	}
	return s, nil
}

// Text renders the summary. Temperatures are rounded half to even.
func (s Summary) Text() string {
	return fmt.Sprintf("🌤️ Погода в г. %s:\n\n"+
		"🌡️ Сейчас: %d°C (ощущается как %d°C), %s.\n\n"+
		"🌆 В течение дня:\n"+
		"  • Макс: %d°C\n  • Мин: %d°C\n  • Ветер: %.1f м/с.",
		s.City, deg(s.Temp), deg(s.FeelsLike), s.Description, deg(s.Max), deg(s.Min), s.Wind)
}

func deg(v float64) int { return int(math.RoundToEven(v)) }

func capitalize(s string) string {
	rs := []rune(strings.ToLower(s))
	if len(rs) == 0 {
		return ""
	}
	rs[0] = unicode.ToUpper(rs[0])
	return string(rs)
}
