package session

import "errors"

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSessionClosed   = errors.New("session closed")
)
