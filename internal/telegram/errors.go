package telegram

import "errors"

var (
	ErrNotConfigured = errors.New("telegram api credentials are not configured")
	ErrUnauthorized  = errors.New("telegram session is not authorized")
)
