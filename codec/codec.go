// Package codec converts between the credential store's five collections and
// the persisted byte formats. Two schemas are supported: the current
// five-collection JSON document and the flat keyed dictionary used by the
// previous major version. Both round-trip unrecognized data verbatim; a
// deserialize/serialize cycle through either codec never drops fields this
// version does not understand.
//
// The third persisted format, the flat ADAL-compatible array, is not a full
// cache schema and lives with the legacy bridge instead.
package codec

import (
	"bytes"
	"fmt"

	"github.com/identitykit/tokencache/storage"
)

// Schema names a wire format, for codec selection and parse errors.
type Schema string

const (
	// SchemaCurrent is the five-collection JSON document.
	SchemaCurrent Schema = "current"

	// SchemaLegacyDictionary is the flat key-to-record dictionary from the
	// previous major version.
	SchemaLegacyDictionary Schema = "legacy_dictionary"
)

// Codec is a bidirectional converter between a credential store and one
// persisted schema.
type Codec interface {
	// Marshal renders the store's contents. Output is deterministic for a
	// given store state.
	Marshal(store storage.Accessor) ([]byte, error)

	// Unmarshal replaces the store's contents with the decoded records.
	// Empty or JSON-null input yields an empty store and reports
	// changed=false; any decoded content reports changed=true. A failed
	// decode leaves the store untouched.
	Unmarshal(data []byte, store storage.Accessor) (changed bool, err error)
}

// ParseError reports bytes that could not be decoded under the requested
// schema. Hint, when set, names the alternate schema the bytes resemble, so
// a caller who picked the wrong codec can tell that apart from corruption.
type ParseError struct {
	Schema Schema
	Hint   string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("cannot parse cache as %s schema (%s): %v", e.Schema, e.Hint, e.Err)
	}
	return fmt.Sprintf("cannot parse cache as %s schema: %v", e.Schema, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// emptyPayload reports input that decodes to no cache at all: nothing,
// whitespace, or a JSON null.
func emptyPayload(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
