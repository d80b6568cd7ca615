// Package memory provides an in-process store backend for tests and
// ephemeral runs. It supports injected failures so callers can exercise
// the storage-unavailable paths of the ledger and history.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool

	readErr   error
	writeErr  error
	writeKeys map[string]bool // nil = every key
	puts      int
}

func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// FailWrites makes subsequent writes fail with err. When keys are given,
// only writes touching one of them fail. A nil err clears the injection.
func (s *Store) FailWrites(err error, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeErr = err
	s.writeKeys = nil
	if len(keys) > 0 {
		s.writeKeys = make(map[string]bool, len(keys))
		for _, k := range keys {
			s.writeKeys[k] = true
		}
	}
}

// FailReads makes subsequent Gets fail with err. A nil err clears it.
func (s *Store) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// Puts returns the number of successful Put calls.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Raw writes a value bypassing failure injection. Used to seed fixtures.
func (s *Store) Raw(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, getanswer.ErrStoreClosed
	}
	if s.readErr != nil {
		return nil, fmt.Errorf("getanswer/memory: get %s: %w", key, s.readErr)
	}

	v, ok := s.data[key]
	if !ok {
		return nil, getanswer.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Put(_ context.Context, entries ...store.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	if err := s.writeCheck(keys); err != nil {
		return fmt.Errorf("getanswer/memory: put: %w", err)
	}

	for _, e := range entries {
		s.data[e.Key] = append([]byte(nil), e.Value...)
	}
	s.puts++
	return nil
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeCheck(keys); err != nil {
		return fmt.Errorf("getanswer/memory: delete: %w", err)
	}
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// writeCheck must be called with s.mu held.
func (s *Store) writeCheck(keys []string) error {
	if s.closed {
		return getanswer.ErrStoreClosed
	}
	if s.writeErr == nil {
		return nil
	}
	if s.writeKeys == nil {
		return s.writeErr
	}
	for _, k := range keys {
		if s.writeKeys[k] {
			return s.writeErr
		}
	}
	return nil
}

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return getanswer.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
