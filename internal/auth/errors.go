package auth

import "errors"

// ErrMissingCredentials is wrapped by the ConfigurationError returned when
// the service account email or private key is not configured.
var ErrMissingCredentials = errors.New("Missing Google service account credentials")

// ConfigurationError means the operator has not set the service account up
// correctly: missing credentials, or a key that cannot be parsed.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TokenExchangeError means the identity provider rejected the assertion or
// could not be reached. StatusCode is 0 for network failures.
type TokenExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	if e.Body == "" && e.Err != nil {
		return "Failed to get access token: " + e.Err.Error()
	}
	return "Failed to get access token: " + e.Body
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// HTTPStatus exposes the token endpoint status for retry classification.
func (e *TokenExchangeError) HTTPStatus() int {
	return e.StatusCode
}
