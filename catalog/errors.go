package catalog

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrForbidden signals an HTTP 403 from the asset endpoint or a signed
	// URL. Distinct from other statuses because it usually means the
	// signed URL went stale or the token lost access to the asset.
	ErrForbidden = errors.New("forbidden")

	// ErrUnexpectedResponse signals a 2xx body that matches none of the
	// shapes the endpoint is documented to return.
	ErrUnexpectedResponse = errors.New("unexpected server response")
)

// ServerError is a well-formed error payload from the backend. Both fields
// are optional on the wire.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error %q: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server error %q", e.Code)
}

// TokenError is the OAuth error payload from the token endpoint, e.g.
// {"error": "authorization_pending"}. It is an error type so callers can
// pull the code out with errors.As.
type TokenError struct {
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token endpoint error %q: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("token endpoint error %q", e.Code)
}

// StatusError reports a response status the endpoint contract does not
// cover, such as a 404 from a signed URL.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.StatusCode)
}
