package auth

import "github.com/pkg/errors"

var (
	// ErrNoRefreshToken means an operation that requires a logged-in
	// device ran before the device-code flow ever completed.
	ErrNoRefreshToken = errors.New("no refresh token stored")

	// ErrTokenExchangeFailed wraps a server-reported error payload from
	// the token endpoint (anything other than authorization_pending).
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrUnexpectedServerResponse is a protocol violation: the server
	// answered with a shape the flow cannot accept, e.g. an access-only
	// grant where a refresh token was required.
	ErrUnexpectedServerResponse = errors.New("unexpected server response")
)
