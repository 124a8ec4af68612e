package router

import (
	"errors"
	"fmt"

	"chatrelay/pkg/types"
)

// Router errors. The client-facing ones wrap the sentinels in pkg/types so
// they map to the fixed error frame texts.
var (
	ErrUnknownEventType   = fmt.Errorf("%w: unrecognised type", types.ErrUnknownEvent)
	ErrNotJoined          = fmt.Errorf("%w: message before join", types.ErrUnknownEvent)
	ErrDuplicateJoin      = fmt.Errorf("%w: join on a joined connection", types.ErrAlreadyJoined)
	ErrInvalidRemoteEvent = errors.New("invalid replicated event")
)
