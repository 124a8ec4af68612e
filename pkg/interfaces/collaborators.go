package interfaces

import (
	"context"

	"chatrelay/pkg/types"
)

// Identity is the outcome of an authorization check on a display name.
type Identity struct {
	Allowed    bool
	TrustScore float64
	Reason     string
}

// IdentityService decides whether a display name may join.
type IdentityService interface {
	Authorize(ctx context.Context, username string) (Identity, error)
}

// Verdict is a moderation decision for one message.
type Verdict struct {
	Flagged bool
	Reason  string
}

// Moderator inspects content before it is accepted.
type Moderator interface {
	Moderate(ctx context.Context, from, content string) (Verdict, error)
}

// Archive receives a copy of every accepted message. Implementations must
// not block the caller.
type Archive interface {
	Archive(msg types.ChatMessage)
}

// Replicator propagates accepted events to other relay nodes and delivers
// events accepted elsewhere.
type Replicator interface {
	// Publish queues a locally accepted event. It must not block.
	Publish(ev types.ReplicatedEvent)

	// Run blocks until ctx is cancelled, calling deliver for every event
	// received from another node.
	Run(ctx context.Context, deliver func(types.ReplicatedEvent)) error

	Close() error
}
