package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/getanswer/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"TransactionID", id.NewTransactionID, "txn_"},
		{"HistoryID", id.NewHistoryID, "hist_"},
		{"RunID", id.NewRunID, "run_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"TransactionID", id.NewTransactionID, id.ParseTransactionID},
		{"HistoryID", id.NewHistoryID, id.ParseHistoryID},
		{"RunID", id.NewRunID, id.ParseRunID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	if _, err := id.ParseTransactionID(id.NewHistoryID().String()); err == nil {
		t.Error("expected ParseTransactionID to reject a hist_ id")
	}
	if _, err := id.ParseHistoryID(id.NewRunID().String()); err == nil {
		t.Error("expected ParseHistoryID to reject a run_ id")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "not-an-id", "txn_!!!"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestJSON(t *testing.T) {
	type rec struct {
		ID      id.ID `json:"id"`
		Missing id.ID `json:"missing"`
	}

	in := rec{ID: id.NewTransactionID()}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var out rec
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID.String() != in.ID.String() {
		t.Errorf("got %q, want %q", out.ID, in.ID)
	}
	if !out.Missing.IsNil() {
		t.Errorf("expected Nil for empty id, got %q", out.Missing)
	}
}

func TestEqual(t *testing.T) {
	a := id.NewTransactionID()
	b, err := id.Parse(a.String())
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Errorf("%s should equal its parsed copy", a)
	}
	if a.Equal(id.NewTransactionID()) {
		t.Error("distinct ids compared equal")
	}
	if !id.Nil.Equal(id.ID{}) {
		t.Error("zero ids should be equal")
	}
}
