package cache

import "fmt"

// Cache error codes. Matching misses are not errors: read operations
// return nil results and leave the "is this interaction required" decision
// to the request layer.
const (
	ErrorCodeUserMismatch      = "user_mismatch"
	ErrorCodeMalformedIDToken  = "malformed_id_token"
	ErrorCodeMissingClientInfo = "missing_client_info"
	ErrorCodeScopesRequired    = "scopes_required"
)

// Error is a classified, caller-surfaced cache failure.
type Error struct {
	Code        string // machine-readable code, one of the ErrorCode constants
	Description string // human-readable description
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a classified cache error.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

var (
	// ErrUserMismatch indicates the identifiers returned by the token
	// endpoint conflict with the account supplied at request time. The save
	// aborts with no partial write.
	ErrUserMismatch = func(desc string) *Error {
		return NewError(ErrorCodeUserMismatch, desc)
	}

	// ErrMalformedIDToken indicates the save pipeline could not derive a
	// realm or account from the response's ID token.
	ErrMalformedIDToken = func(desc string) *Error {
		return NewError(ErrorCodeMalformedIDToken, desc)
	}

	// ErrMissingClientInfo indicates a user flow response carried no
	// client_info identity blob.
	ErrMissingClientInfo = func(desc string) *Error {
		return NewError(ErrorCodeMissingClientInfo, desc)
	}

	// ErrScopesRequired classifies a silent request that cannot be served
	// because it asked for no resource scopes.
	ErrScopesRequired = func(desc string) *Error {
		return NewError(ErrorCodeScopesRequired, desc)
	}
)
