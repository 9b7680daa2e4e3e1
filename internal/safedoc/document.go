// Package safedoc provides a presence-aware wrapper around a persisted JSON
// document. It keeps three easily-confused states apart: no document at all,
// a document that exists but is empty, and a document whose field is present
// but null. Callers branch on Exists and Has instead of truthiness.
package safedoc

import (
	"encoding/json"
	"time"

	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

// Document wraps one persisted record. The zero value is an absent document.
type Document struct {
	raw    json.RawMessage
	exists bool
}

// Absent returns a document representing "no record found".
func Absent() Document {
	return Document{}
}

// FromJSON wraps raw JSON as an existing document. An empty or nil input is
// normalized to an empty object: the document still exists, it just has no
// fields. This is the load-bearing guarantee of the package.
func FromJSON(raw []byte) Document {
	if len(raw) == 0 {
		raw = []byte(`{}`)
	}

	return Document{raw: json.RawMessage(raw), exists: true}
}

// FromValue marshals v into an existing document.
func FromValue(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Document{}, err
	}

	return FromJSON(raw), nil
}

// Exists reports whether the underlying record was found, independent of its
// contents.
func (d Document) Exists() bool {
	return d.exists
}

// Has reports whether field is present and not null. The field may be a
// gjson dot path for nested access.
func (d Document) Has(field string) bool {
	if !d.exists {
		return false
	}

	result := gjson.GetBytes(d.raw, field)

	return result.Exists() && result.Type != gjson.Null
}

// Get returns the field value, or nil when absent or null.
func (d Document) Get(field string) any {
	if !d.Has(field) {
		return nil
	}

	return gjson.GetBytes(d.raw, field).Value()
}

// GetString returns the field as a string, or def when absent or null.
func (d Document) GetString(field, def string) string {
	if !d.Has(field) {
		return def
	}

	return gjson.GetBytes(d.raw, field).String()
}

// GetInt returns the field coerced to an int, or def when the field is
// absent, null, or not coercible. Coercion accepts numbers and numeric
// strings; anything else falls back to def.
func (d Document) GetInt(field string, def int) int {
	value, err := d.GetIntE(field)
	if err != nil {
		return def
	}

	return value
}

// GetIntE returns the field coerced to an int, surfacing the coercion error
// so callers can log data-integrity warnings. An absent or null field is an
// error here: use Has first when absence is expected.
func (d Document) GetIntE(field string) (int, error) {
	if !d.Has(field) {
		return 0, &FieldError{Field: field, Reason: "field is absent or null"}
	}

	value, err := cast.ToIntE(gjson.GetBytes(d.raw, field).Value())
	if err != nil {
		return 0, &FieldError{Field: field, Reason: err.Error()}
	}

	return value, nil
}

// GetTime returns the field parsed as RFC3339, and whether it was present
// and valid.
func (d Document) GetTime(field string) (time.Time, bool) {
	if !d.Has(field) {
		return time.Time{}, false
	}

	parsed, err := time.Parse(time.RFC3339Nano, gjson.GetBytes(d.raw, field).String())
	if err != nil {
		return time.Time{}, false
	}

	return parsed.UTC(), true
}

// GetStringSlice returns the field as a slice of strings. Non-string array
// elements are skipped; an absent, null, or non-array field yields nil.
func (d Document) GetStringSlice(field string) []string {
	if !d.Has(field) {
		return nil
	}

	result := gjson.GetBytes(d.raw, field)
	if !result.IsArray() {
		return nil
	}

	var values []string

	result.ForEach(func(_, value gjson.Result) bool {
		if value.Type == gjson.String {
			values = append(values, value.String())
		}

		return true
	})

	return values
}

// Raw returns the underlying JSON for serialization only. Callers must not
// branch on its shape; use Exists/Has/Get instead.
func (d Document) Raw() json.RawMessage {
	if !d.exists {
		return nil
	}

	return d.raw
}

// Decode unmarshals the document into v.
func (d Document) Decode(v any) error {
	if !d.exists {
		return ErrAbsent
	}

	return json.Unmarshal(d.raw, v)
}
