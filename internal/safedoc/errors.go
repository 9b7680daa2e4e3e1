package safedoc

import (
	"errors"
	"fmt"
)

// ErrAbsent is returned when decoding a document that does not exist.
var ErrAbsent = errors.New("document does not exist")

// FieldError reports a field-level access failure.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}
