package auth

import "errors"

// Login flow sentinels. Handlers map the first to 400, the email and
// password pair to 401 without revealing which of the two was wrong in
// the response status.
var (
	ErrEmailPasswordRequired = errors.New("Email and password are required")
	ErrInvalidEmail          = errors.New("No account matches that email")
	ErrIncorrectPassword     = errors.New("Incorrect password")
	ErrNotAuthenticated      = errors.New("Not authenticated")
)
