package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

var (
	ErrOutboundFull = errors.New("replication outbound queue is full")
	ErrClosed       = errors.New("replicator is closed")
)

// NewRedis creates a Redis client for url.
// Returns nil if url is empty, meaning the relay runs as a single node.
func NewRedis(url string) (*redis.Client, error) {
	if url == "" {
		log.Info().Msg("Redis URL not configured, replication disabled")
		return nil, nil
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info().Msg("Connected to Redis")
	return client, nil
}

// RedisReplicator exchanges accepted events with other relay nodes over one
// Redis Pub/Sub channel. Every envelope carries the publishing node's
// instance id so a node ignores its own publications.
type RedisReplicator struct {
	client     *redis.Client
	channel    string
	instanceID string
	outbound   chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
}

var _ interfaces.Replicator = (*RedisReplicator)(nil)

// NewRedisReplicator creates a replicator publishing on channel
func NewRedisReplicator(client *redis.Client, channel, instanceID string, buffer int) *RedisReplicator {
	if buffer <= 0 {
		buffer = 256
	}
	return &RedisReplicator{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		outbound:   make(chan []byte, buffer),
		closed:     make(chan struct{}),
	}
}

// InstanceID returns the id stamped on outgoing events
func (r *RedisReplicator) InstanceID() string {
	return r.instanceID
}

// Publish stamps ev with this node's id and queues it. It never blocks the
// hub; when the queue is full the event is not replicated.
func (r *RedisReplicator) Publish(ev types.ReplicatedEvent) {
	ev.Origin = r.instanceID
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("kind", ev.Kind).Msg("Failed to encode replicated event")
		return
	}

	select {
	case <-r.closed:
		return
	default:
	}

	select {
	case r.outbound <- data:
	default:
		log.Warn().Err(ErrOutboundFull).Str("kind", ev.Kind).Msg("Replicated event dropped")
	}
}

// Run subscribes to the channel and publishes queued events until ctx is
// cancelled or Close is called.
func (r *RedisReplicator) Run(ctx context.Context, deliver func(types.ReplicatedEvent)) error {
	if r.client == nil {
		return ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	log.Info().Str("channel", r.channel).Str("instance_id", r.instanceID).Msg("Replication subscribed")

	go r.publishLoop(ctx)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.closed:
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.handlePayload(msg.Payload, deliver); err != nil {
				log.Debug().Err(err).Msg("Ignored replication payload")
			}
		}
	}
}

func (r *RedisReplicator) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closed:
			return
		case data := <-r.outbound:
			if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
				log.Warn().Err(err).Msg("Failed to publish replicated event")
			}
		}
	}
}

// handlePayload decodes one envelope and delivers it unless this node
// published it.
func (r *RedisReplicator) handlePayload(payload string, deliver func(types.ReplicatedEvent)) error {
	var ev types.ReplicatedEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("malformed envelope: %w", err)
	}
	if ev.Origin == "" {
		return errors.New("envelope without origin")
	}
	if ev.Origin == r.instanceID {
		return nil
	}
	deliver(ev)
	return nil
}

// Close stops Run and closes the Redis client
func (r *RedisReplicator) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.closed)
		if r.client != nil {
			err = r.client.Close()
		}
	})
	return err
}
