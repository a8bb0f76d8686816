// Package post holds the publication item model shared by storage, the
// scheduler and the operator surface.
package post

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidPayload = errors.New("invalid payload")

type Kind string

const (
	KindImage     Kind = "image"
	KindClip      Kind = "clip"
	KindAnimation Kind = "animation"
)

func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindClip, KindAnimation:
		return true
	}
	return false
}

// Payload is what gets delivered: a media reference the transport already
// knows (a Telegram file id) plus an optional caption.
type Payload struct {
	Kind    Kind   `json:"kind"`
	FileID  string `json:"file_id"`
	Caption string `json:"caption,omitempty"`
}

func (p Payload) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: unknown media kind %q", ErrInvalidPayload, p.Kind)
	}
	if strings.TrimSpace(p.FileID) == "" {
		return fmt.Errorf("%w: empty file id", ErrInvalidPayload)
	}
	return nil
}

func (p Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func DecodePayload(s string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, p.Validate()
}

// QueuedItem is one entry of the regular queue. Queue order is insertion
// order; EnqueuedAt is informational.
type QueuedItem struct {
	ID         string
	Payload    Payload
	EnqueuedAt time.Time
}

func NewQueued(p Payload, now time.Time) QueuedItem {
	return QueuedItem{ID: uuid.NewString(), Payload: p, EnqueuedAt: now}
}

// Slot names a fixed daily publication slot.
type Slot string

const (
	SlotOpening Slot = "opening"
	SlotClosing Slot = "closing"
)

var Slots = []Slot{SlotOpening, SlotClosing}

func ParseSlot(s string) (Slot, error) {
	switch Slot(strings.ToLower(strings.TrimSpace(s))) {
	case SlotOpening:
		return SlotOpening, nil
	case SlotClosing:
		return SlotClosing, nil
	}
	return "", fmt.Errorf("unknown slot %q", s)
}

// SpecialItem is the single pending post of a slot.
type SpecialItem struct {
	Slot      Slot
	Payload   Payload
	UpdatedAt time.Time
}

// Sign places signature under the operator's caption, separated by a blank line.
func Sign(caption, signature string) string {
	caption = strings.TrimSpace(caption)
	switch {
	case signature == "":
		return caption
	case caption == "":
		return signature
	default:
		return caption + "\n\n" + signature
	}
}
