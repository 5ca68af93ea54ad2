package domain

import "errors"

var (
	ErrUnknownSubject = errors.New("unknown subject")
	ErrUnknownContext = errors.New("unknown analysis context")
	ErrNoSelection    = errors.New("no subject selected")
	ErrNotCached      = errors.New("no cached sentiment for key")
	ErrBadDriverIndex = errors.New("driver index out of range")
)
