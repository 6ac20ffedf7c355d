package policy

import "errors"

var (
	ErrUnauthorized  = errors.New("caller is not an authorized admin")
	ErrNoGlobalAdmin = errors.New("global admin not set")
)
