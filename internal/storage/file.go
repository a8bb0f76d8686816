package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Larkinyegor/telegram-bot-bw/internal/post"
	logx "github.com/Larkinyegor/telegram-bot-bw/pkg/logx"
)

// fileStore keeps everything in one JSON document. Every mutation is applied
// to a copy, written to a temp file and renamed over the original; the
// in-memory copy is swapped only after the rename succeeds.
type fileStore struct {
	fs   afero.Fs
	path string
	log  logx.Logger

	mu     sync.Mutex
	doc    document
	closed bool
}

type document struct {
	Queue    []queuedRecord              `json:"queue"`
	Specials map[post.Slot]specialRecord `json:"specials"`
	State    map[string]string           `json:"state"`
}

type queuedRecord struct {
	ID         string       `json:"id"`
	Payload    post.Payload `json:"payload"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}

type specialRecord struct {
	Payload   post.Payload `json:"payload"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func openFile(fs afero.Fs, path string, log logx.Logger) (*fileStore, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage dir: %w", err)
	}
	st := &fileStore{fs: fs, path: path, log: log}

	raw, err := afero.ReadFile(fs, path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	case len(raw) > 0:
		if err := json.Unmarshal(raw, &st.doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	st.doc.normalize()
	log.Debug("file store opened", logx.String("path", path), logx.Int("queued", len(st.doc.Queue)))
	return st, nil
}

func (d *document) normalize() {
	if d.Specials == nil {
		d.Specials = map[post.Slot]specialRecord{}
	}
	if d.State == nil {
		d.State = map[string]string{}
	}
}

func (d document) clone() document {
	cp := document{
		Queue:    append([]queuedRecord(nil), d.Queue...),
		Specials: make(map[post.Slot]specialRecord, len(d.Specials)),
		State:    make(map[string]string, len(d.State)),
	}
	for k, v := range d.Specials {
		cp.Specials[k] = v
	}
	for k, v := range d.State {
		cp.State[k] = v
	}
	return cp
}

// mutate runs fn on a copy and commits it to disk. fn returning false means
// nothing changed and nothing is written.
func (s *fileStore) mutate(fn func(d *document) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	next := s.doc.clone()
	if !fn(&next) {
		return nil
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *fileStore) write(d document) error {
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, b, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (s *fileStore) read(fn func(d *document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	fn(&s.doc)
	return nil
}

func (s *fileStore) Enqueue(_ context.Context, item post.QueuedItem) (string, error) {
	item, err := prepareQueued(item)
	if err != nil {
		return "", err
	}
	err = s.mutate(func(d *document) bool {
		d.Queue = append(d.Queue, queuedRecord{ID: item.ID, Payload: item.Payload, EnqueuedAt: item.EnqueuedAt})
		return true
	})
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

func (s *fileStore) ListQueue(context.Context) ([]post.QueuedItem, error) {
	var out []post.QueuedItem
	err := s.read(func(d *document) {
		out = make([]post.QueuedItem, 0, len(d.Queue))
		for _, r := range d.Queue {
			out = append(out, post.QueuedItem{ID: r.ID, Payload: r.Payload, EnqueuedAt: r.EnqueuedAt})
		}
	})
	return out, err
}

func (s *fileStore) DeleteQueued(_ context.Context, id string) (bool, error) {
	removed := false
	err := s.mutate(func(d *document) bool {
		for i, r := range d.Queue {
			if r.ID == id {
				d.Queue = append(d.Queue[:i], d.Queue[i+1:]...)
				removed = true
				return true
			}
		}
		return false
	})
	return removed && err == nil, err
}

func (s *fileStore) CountQueue(context.Context) (int, error) {
	n := 0
	err := s.read(func(d *document) { n = len(d.Queue) })
	return n, err
}

func (s *fileStore) GetSpecial(_ context.Context, slot post.Slot) (post.SpecialItem, bool, error) {
	var (
		item post.SpecialItem
		ok   bool
	)
	err := s.read(func(d *document) {
		var r specialRecord
		if r, ok = d.Specials[slot]; ok {
			item = post.SpecialItem{Slot: slot, Payload: r.Payload, UpdatedAt: r.UpdatedAt}
		}
	})
	return item, ok, err
}

func (s *fileStore) PutSpecial(_ context.Context, item post.SpecialItem) error {
	if err := item.Payload.Validate(); err != nil {
		return err
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now()
	}
	return s.mutate(func(d *document) bool {
		d.Specials[item.Slot] = specialRecord{Payload: item.Payload, UpdatedAt: item.UpdatedAt}
		return true
	})
}

func (s *fileStore) DeleteSpecial(_ context.Context, slot post.Slot) (bool, error) {
	removed := false
	err := s.mutate(func(d *document) bool {
		if _, ok := d.Specials[slot]; !ok {
			return false
		}
		delete(d.Specials, slot)
		removed = true
		return true
	})
	return removed && err == nil, err
}

func (s *fileStore) GetState(_ context.Context, key string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := s.read(func(d *document) { v, ok = d.State[key] })
	return v, ok, err
}

func (s *fileStore) SetState(_ context.Context, key, value string) error {
	return s.mutate(func(d *document) bool {
		d.State[key] = value
		return true
	})
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
