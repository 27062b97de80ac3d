package types

import "errors"

// ErrInvariant is returned when a record fails one of the data-model's
// validity rules. It is a sentinel so callers can test with errors.Is
// regardless of the wrapping message.
var ErrInvariant = errors.New("types: invariant violation")
