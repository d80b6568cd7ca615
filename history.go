package getanswer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/getanswer/history"
	"github.com/xraph/getanswer/id"
	"github.com/xraph/getanswer/plugin"
	"github.com/xraph/getanswer/store"
)

// History keeps the bounded, newest-first list of answered queries.
type History struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	now      func() time.Time
	maxItems int

	mu      sync.Mutex
	loaded  bool
	entries []history.Entry
	pending []history.Entry // appended while the list was unreadable, newest first
}

// NewHistory creates a History over s.
func NewHistory(s store.Store, opts ...HistoryOption) *History {
	h := &History{
		store:    s,
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		now:      time.Now,
		maxItems: history.MaxItems,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithHistoryLogger sets the logger.
func WithHistoryLogger(logger *slog.Logger) HistoryOption {
	return func(h *History) { h.logger = logger }
}

// WithHistoryPlugins shares a plugin registry with the history.
func WithHistoryPlugins(r *plugin.Registry) HistoryOption {
	return func(h *History) { h.plugins = r }
}

// WithMaxItems sets how many entries are retained.
func WithMaxItems(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.maxItems = n
		}
	}
}

// WithHistoryClock overrides the clock used for entry timestamps.
func WithHistoryClock(now func() time.Time) HistoryOption {
	return func(h *History) { h.now = now }
}

func (h *History) loadLocked(ctx context.Context) error {
	if h.loaded {
		return nil
	}

	raw, err := h.store.Get(ctx, store.KeyHistory)
	switch {
	case errors.Is(err, ErrNotFound):
		h.entries = nil
	case err != nil:
		return fmt.Errorf("%w: read history: %w", ErrStorageUnavailable, err)
	default:
		var entries []history.Entry
		if err := json.Unmarshal(raw, &entries); err != nil {
			h.logger.Warn("history: stored list is corrupt, starting empty", "error", err)
			entries = nil
		}
		h.entries = entries
	}
	h.loaded = true

	if len(h.pending) > 0 {
		for i := len(h.pending) - 1; i >= 0; i-- {
			h.entries = history.Prepend(h.entries, h.pending[i], h.maxItems)
		}
		h.pending = nil
		if err := h.persistLocked(ctx); err != nil {
			h.logger.Warn("history: held entries not persisted", "error", err)
		}
	}
	return nil
}

// Append stores e at the front of the history, dropping the oldest entries
// beyond the limit. A zero ID or timestamp is filled in. When the store
// cannot be read or written the entry is still kept in memory and
// ErrStorageUnavailable is returned; the next successful read or write
// persists it.
func (h *History) Append(ctx context.Context, e history.Entry) (history.Entry, error) {
	if e.ID.IsNil() {
		e.ID = id.NewHistoryID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now().UTC()
	}

	h.mu.Lock()
	if err := h.loadLocked(ctx); err != nil {
		h.pending = history.Prepend(h.pending, e, h.maxItems)
		h.mu.Unlock()
		h.logger.Warn("history: append held in memory", "entry_id", e.ID.String(), "error", err)
		return e, err
	}

	h.entries = history.Prepend(h.entries, e, h.maxItems)
	err := h.persistLocked(ctx)
	h.mu.Unlock()

	if err != nil {
		h.logger.Warn("history: append not persisted", "entry_id", e.ID.String(), "error", err)
		return e, err
	}

	h.plugins.EmitHistoryAppended(ctx, e)
	return e, nil
}

// List returns the entries newest first.
func (h *History) List(ctx context.Context) ([]history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadLocked(ctx); err != nil {
		return nil, err
	}

	out := make([]history.Entry, len(h.entries))
	copy(out, h.entries)
	return out, nil
}

// Get returns one entry.
func (h *History) Get(ctx context.Context, entryID id.HistoryID) (history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadLocked(ctx); err != nil {
		return history.Entry{}, err
	}

	e, ok := history.Find(h.entries, entryID)
	if !ok {
		return history.Entry{}, fmt.Errorf("%w: history entry %s", ErrNotFound, entryID)
	}
	return e, nil
}

// Remove deletes one entry. Removing an absent entry is a no-op.
func (h *History) Remove(ctx context.Context, entryID id.HistoryID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadLocked(ctx); err != nil {
		return err
	}

	next, found := history.Remove(h.entries, entryID)
	if !found {
		return nil
	}

	prev := h.entries
	h.entries = next
	if err := h.persistLocked(ctx); err != nil {
		h.entries = prev
		return err
	}
	return nil
}

// Clear removes every entry.
func (h *History) Clear(ctx context.Context) error {
	h.mu.Lock()
	if err := h.store.Delete(ctx, store.KeyHistory); err != nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: clear history: %w", ErrStorageUnavailable, err)
	}
	h.entries = nil
	h.pending = nil
	h.loaded = true
	h.mu.Unlock()

	h.logger.Info("history cleared")
	h.plugins.EmitHistoryCleared(ctx)
	return nil
}

func (h *History) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(h.entries)
	if err != nil {
		return fmt.Errorf("%w: encode history: %w", ErrStorageUnavailable, err)
	}
	if err := h.store.Put(ctx, store.Entry{Key: store.KeyHistory, Value: data}); err != nil {
		return fmt.Errorf("%w: write history: %w", ErrStorageUnavailable, err)
	}
	return nil
}
