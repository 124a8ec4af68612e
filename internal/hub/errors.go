package hub

import "errors"

// Hub lifecycle errors
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrRemoteChannelFull = errors.New("remote event channel is full")
)
