package moderation

import "errors"

var (
	ErrNoWords = errors.New("moderation word list is empty")
)
