// Package id defines the TypeID identifiers used for credit transactions,
// history entries and pipeline runs.
//
// IDs render as "prefix_suffix" where the suffix is a UUIDv7, so
// transaction IDs sort in creation order.
package id

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the record type an ID belongs to.
type Prefix string

const (
	PrefixTransaction Prefix = "txn"
	PrefixHistory     Prefix = "hist"
	PrefixRun         Prefix = "run"
)

// ID is a prefixed identifier. The zero value is Nil and encodes as an
// empty string.
//
//nolint:recvcheck // UnmarshalText needs a pointer receiver.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the absent ID.
var Nil ID

// The aliases document which prefix a field carries.
type (
	TransactionID = ID
	HistoryID     = ID
	RunID         = ID
)

func generate(p Prefix) ID {
	tid, err := typeid.Generate(string(p))
	if err != nil {
		// Prefixes are package constants, so this is unreachable.
		panic(fmt.Sprintf("id: generate %s: %v", p, err))
	}
	return ID{tid: tid, set: true}
}

func NewTransactionID() ID { return generate(PrefixTransaction) }
func NewHistoryID() ID     { return generate(PrefixHistory) }
func NewRunID() ID         { return generate(PrefixRun) }

// Parse accepts any well-formed TypeID.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

func parseAs(s string, want Prefix) (ID, error) {
	v, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := v.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, want)
	}
	return v, nil
}

func ParseTransactionID(s string) (ID, error) { return parseAs(s, PrefixTransaction) }
func ParseHistoryID(s string) (ID, error)     { return parseAs(s, PrefixHistory) }
func ParseRunID(s string) (ID, error)         { return parseAs(s, PrefixRun) }

func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.set }

// Equal compares by rendered value.
func (i ID) Equal(other ID) bool { return i.String() == other.String() }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = Nil
		return nil
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}
