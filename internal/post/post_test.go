package post

import (
	"errors"
	"testing"
	"time"
)

func TestSign(t *testing.T) {
	t.Parallel()

	tests := []struct {
		caption, sig, want string
	}{
		{"", "Доброе утро!", "Доброе утро!"},
		{"кот", "Доброе утро!", "кот\n\nДоброе утро!"},
		{"  кот ", "", "кот"},
	}
	for _, tt := range tests {
		if got := Sign(tt.caption, tt.sig); got != tt.want {
			t.Fatalf("Sign(%q, %q) = %q, want %q", tt.caption, tt.sig, got, tt.want)
		}
	}
}

func TestPayloadCodec(t *testing.T) {
	t.Parallel()

	p := Payload{Kind: KindClip, FileID: "f1", Caption: "c"}
	s, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodePayload(s)
	if err != nil || got != p {
		t.Fatalf("DecodePayload = %+v, %v; want %+v", got, err, p)
	}

	if _, err := DecodePayload(`{"kind":"sticker","file_id":"x"}`); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("DecodePayload(sticker) err = %v, want ErrInvalidPayload", err)
	}
	if err := (Payload{Kind: KindImage}).Validate(); err == nil {
		t.Fatalf("Validate accepted empty file id")
	}
}

func TestNewQueuedAssignsUniqueIDs(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := NewQueued(Payload{Kind: KindImage, FileID: "a"}, now)
	b := NewQueued(Payload{Kind: KindImage, FileID: "a"}, now)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids = %q, %q; want distinct non-empty", a.ID, b.ID)
	}
}

func TestParseSlot(t *testing.T) {
	t.Parallel()

	if s, err := ParseSlot(" Opening "); err != nil || s != SlotOpening {
		t.Fatalf("ParseSlot = %q, %v", s, err)
	}
	if _, err := ParseSlot("noon"); err == nil {
		t.Fatalf("ParseSlot(noon) accepted")
	}
}
