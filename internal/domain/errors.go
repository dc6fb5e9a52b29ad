package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrAlreadyExists = errors.New("already exists")
var ErrInvalidCursor = errors.New("invalid cursor")
var ErrMediaUnavailable = errors.New("media unavailable")
var ErrFeedClosed = errors.New("feed closed")
