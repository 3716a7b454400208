package auth

import "errors"

var (
	errUnparsable    = errors.New("auth: unable to parse token response")
	errNoAccessToken = errors.New("auth: token response missing access_token")
)

// exchangeError carries the upstream error message from a rejected exchange.
type exchangeError struct {
	message string
}

func (e *exchangeError) Error() string {
	return "auth: error in retrieving token: " + e.message
}
