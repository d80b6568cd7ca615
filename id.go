package getanswer

import "github.com/xraph/getanswer/id"

// ID is the primary identifier type for all getanswer records.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix
