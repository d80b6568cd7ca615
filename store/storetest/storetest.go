// Package storetest provides the conformance suite every store backend
// runs from its own tests.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/xraph/getanswer"
	"github.com/xraph/getanswer/store"
)

// Factory returns a fresh, migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"GetMissing", testGetMissing},
		{"PutGet", testPutGet},
		{"PutMany", testPutMany},
		{"Overwrite", testOverwrite},
		{"Delete", testDelete},
		{"ValuesNotAliased", testValuesNotAliased},
		{"ConcurrentPuts", testConcurrentPuts},
		{"MigrateIdempotent", testMigrateIdempotent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, getanswer.ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func testPutGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Put(ctx, store.Entry{Key: store.KeyCredits, Value: []byte("10")}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, store.KeyCredits)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "10" {
		t.Errorf("Get = %q, want %q", got, "10")
	}
}

func testPutMany(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.Put(ctx,
		store.Entry{Key: store.KeyCredits, Value: []byte("8")},
		store.Entry{Key: store.KeyTransactions, Value: []byte(`[{"type":"deduct"}]`)},
	)
	if err != nil {
		t.Fatal(err)
	}

	for key, want := range map[string]string{
		store.KeyCredits:      "8",
		store.KeyTransactions: `[{"type":"deduct"}]`,
	} {
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}
		if string(got) != want {
			t.Errorf("Get(%s) = %q, want %q", key, got, want)
		}
	}
}

func testOverwrite(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, v := range []string{"1", "2", "3"} {
		if err := s.Put(ctx, store.Entry{Key: store.KeyCredits, Value: []byte(v)}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Get(ctx, store.KeyCredits)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "3" {
		t.Errorf("Get = %q, want %q", got, "3")
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Put(ctx, store.Entry{Key: store.KeyHistory, Value: []byte("[]")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, store.KeyHistory, "never-written"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, store.KeyHistory); !errors.Is(err, getanswer.ErrNotFound) {
		t.Errorf("Get after Delete error = %v, want ErrNotFound", err)
	}
}

func testValuesNotAliased(t *testing.T, s store.Store) {
	ctx := context.Background()
	buf := []byte("abc")
	if err := s.Put(ctx, store.Entry{Key: "k", Value: buf}); err != nil {
		t.Fatal(err)
	}
	buf[0] = 'x'

	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abc" {
		t.Errorf("stored value changed through caller buffer: %q", got)
	}
}

func testConcurrentPuts(t *testing.T, s store.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 16)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			if err := s.Put(ctx, store.Entry{Key: key, Value: []byte(key)}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Put: %v", err)
	}
	for i := 0; i < 16; i++ {
		key := fmt.Sprintf("key-%d", i)
		got, err := s.Get(ctx, key)
		if err != nil || string(got) != key {
			t.Errorf("Get(%s) = %q, %v", key, got, err)
		}
	}
}

func testMigrateIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
