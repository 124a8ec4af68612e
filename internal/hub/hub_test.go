package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"chatrelay/internal/history"
	"chatrelay/internal/router"
	"chatrelay/internal/session"
	"chatrelay/internal/testutil"
	"chatrelay/internal/websocket"
	"chatrelay/pkg/types"
)

type hubFixture struct {
	hub      *Hub
	registry *websocket.Registry
	sessions *session.Registry
	history  *history.Store
}

func newHubFixture(t *testing.T, rep *fakeReplicator) *hubFixture {
	t.Helper()
	f := &hubFixture{
		registry: websocket.NewRegistry(),
		sessions: session.NewRegistry(),
		history:  history.NewStore(100),
	}
	var opts []router.Option
	if rep != nil {
		opts = append(opts, router.WithReplicator(rep))
	}
	r := router.NewRouter(f.sessions, f.history, f.registry, router.DefaultConfig(), opts...)
	if rep != nil {
		f.hub = NewHub(f.registry, r, rep)
	} else {
		f.hub = NewHub(f.registry, r, nil)
	}
	require.NoError(t, f.hub.Start(context.Background()))
	t.Cleanup(func() {
		if f.hub.IsRunning() {
			_ = f.hub.Stop()
		}
	})
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestHubStartStop(t *testing.T) {
	h := NewHub(websocket.NewRegistry(), nil, nil)
	ctx := context.Background()

	require.NoError(t, h.Start(ctx))
	assert.ErrorIs(t, h.Start(ctx), ErrHubAlreadyRunning)
	assert.True(t, h.IsRunning())

	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)
	assert.False(t, h.IsRunning())

	err := h.Connect(ctx, testutil.NewFakeConn("late"))
	assert.ErrorIs(t, err, ErrHubNotRunning)

	// restart after stop
	require.NoError(t, h.Start(ctx))
	require.NoError(t, h.Stop())
}

func TestHubStopsWithContext(t *testing.T) {
	h := NewHub(websocket.NewRegistry(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))
	cancel()

	waitFor(t, func() bool {
		return errors.Is(h.Dispatch(context.Background(), testutil.NewFakeConn("c"), []byte(`{}`)), ErrHubNotRunning)
	})
	require.NoError(t, h.Stop())
}

func TestHubFullLifecycle(t *testing.T) {
	f := newHubFixture(t, nil)
	ctx := context.Background()
	alice := testutil.NewFakeConn("alice")
	bob := testutil.NewFakeConn("bob")

	require.NoError(t, f.hub.Connect(ctx, alice))
	require.NoError(t, f.hub.Connect(ctx, bob))
	require.NoError(t, f.hub.Dispatch(ctx, alice, []byte(`{"type":"join","username":"alice"}`)))
	require.NoError(t, f.hub.Dispatch(ctx, bob, []byte(`{"type":"join","username":"bob"}`)))
	require.NoError(t, f.hub.Dispatch(ctx, alice, []byte(`{"type":"message","content":"hi bob"}`)))
	require.NoError(t, f.hub.Disconnect(ctx, alice))

	waitFor(t, func() bool { return len(bob.FramesOfType(types.EventPresence)) == 3 })

	assert.Equal(t, []string{
		types.EventPresence,
		types.EventWelcome,
		types.EventPresence,
		types.EventHistory,
		types.EventMessage,
		types.EventPresence,
	}, bob.Types())
	assert.Equal(t, types.PresenceLeave, bob.FramesOfType(types.EventPresence)[2].Event)
	assert.Equal(t, 1, f.registry.Count())
	assert.Equal(t, 1, f.sessions.Count())
}

// Frames from many connections are applied one at a time, and every
// receiver observes the same relative order.
func TestHubOrderingAcrossSenders(t *testing.T) {
	f := newHubFixture(t, nil)
	ctx := context.Background()

	const senders = 5
	const perSender = 8

	observer := testutil.NewFakeConn("observer")
	require.NoError(t, f.hub.Connect(ctx, observer))

	conns := make([]*testutil.FakeConn, senders)
	for i := range conns {
		conns[i] = testutil.NewFakeConn(fmt.Sprintf("c%d", i))
		require.NoError(t, f.hub.Connect(ctx, conns[i]))
		require.NoError(t, f.hub.Dispatch(ctx, conns[i], []byte(fmt.Sprintf(`{"type":"join","username":"user%d"}`, i))))
	}

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn *testutil.FakeConn) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				frame := fmt.Sprintf(`{"type":"message","content":"u%d-%d"}`, i, j)
				assert.NoError(t, f.hub.Dispatch(ctx, conn, []byte(frame)))
			}
		}(i, conn)
	}
	wg.Wait()

	total := senders * perSender
	waitFor(t, func() bool { return len(observer.FramesOfType(types.EventMessage)) == total })

	accepted := f.history.Recent(total)
	require.Len(t, accepted, total)
	want := make([]string, total)
	for i, m := range accepted {
		want[i] = m.ID
	}

	for _, conn := range append(conns, observer) {
		waitFor(t, func() bool { return len(conn.FramesOfType(types.EventMessage)) == total })
		got := make([]string, 0, total)
		for _, m := range conn.FramesOfType(types.EventMessage) {
			got = append(got, m.ID)
		}
		assert.Equal(t, want, got, "connection %s", conn.GetID())
	}
}

func TestHubStopClosesConnections(t *testing.T) {
	f := newHubFixture(t, nil)
	conn := testutil.NewFakeConn("c")
	require.NoError(t, f.hub.Connect(context.Background(), conn))
	waitFor(t, func() bool { return f.registry.Count() == 1 })

	require.NoError(t, f.hub.Stop())
	assert.True(t, conn.IsClosed())
}

func TestHubStopEndsSessions(t *testing.T) {
	f := newHubFixture(t, nil)
	ctx := context.Background()
	alice := testutil.NewFakeConn("alice")
	require.NoError(t, f.hub.Connect(ctx, alice))
	require.NoError(t, f.hub.Dispatch(ctx, alice, []byte(`{"type":"join","username":"alice"}`)))
	waitFor(t, func() bool { return f.sessions.Count() == 1 })

	require.NoError(t, f.hub.Stop())

	assert.True(t, alice.IsClosed())
	assert.Equal(t, 0, f.registry.Count())
	assert.Equal(t, 0, f.sessions.Count())
	assert.Empty(t, alice.GetSessionID())
}

func TestHubStopDiscardsQueuedCommands(t *testing.T) {
	registry := websocket.NewRegistry()
	h := NewHub(registry, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))
	cancel()
	waitFor(t, func() bool {
		return errors.Is(h.Connect(context.Background(), testutil.NewFakeConn("c")), ErrHubNotRunning)
	})

	// queued before the loop noticed the cancellation
	queued := testutil.NewFakeConn("queued")
	h.commands <- command{kind: cmdConnect, conn: queued}

	require.NoError(t, h.Stop())
	assert.True(t, queued.IsClosed())
	assert.Empty(t, h.commands)
	assert.Equal(t, 0, registry.Count())
}

func TestHubRestartIgnoresStaleCommands(t *testing.T) {
	f := newHubFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.hub.Stop())

	// a connect posted just as the hub stopped
	stale := testutil.NewFakeConn("stale")
	f.hub.commands <- command{kind: cmdConnect, conn: stale}

	require.NoError(t, f.hub.Start(ctx))
	fresh := testutil.NewFakeConn("fresh")
	require.NoError(t, f.hub.Connect(ctx, fresh))
	require.NoError(t, f.hub.Dispatch(ctx, fresh, []byte(`{"type":"join","username":"fresh"}`)))
	waitFor(t, func() bool { return len(fresh.FramesOfType(types.EventHistory)) == 1 })

	assert.Equal(t, 1, f.registry.Count())
	assert.Empty(t, stale.Frames())
	assert.Equal(t, []string{types.EventWelcome, types.EventPresence, types.EventHistory}, fresh.Types())
}

type fakeReplicator struct {
	mu        sync.Mutex
	published []types.ReplicatedEvent
	deliver   chan func(types.ReplicatedEvent)
}

func newFakeReplicator() *fakeReplicator {
	return &fakeReplicator{deliver: make(chan func(types.ReplicatedEvent), 1)}
}

func (r *fakeReplicator) Publish(ev types.ReplicatedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, ev)
}

func (r *fakeReplicator) Run(ctx context.Context, deliver func(types.ReplicatedEvent)) error {
	r.deliver <- deliver
	<-ctx.Done()
	return ctx.Err()
}

func (r *fakeReplicator) Close() error { return nil }

func TestHubAppliesRemoteEvents(t *testing.T) {
	rep := newFakeReplicator()
	f := newHubFixture(t, rep)
	conn := testutil.NewFakeConn("local")
	require.NoError(t, f.hub.Connect(context.Background(), conn))
	waitFor(t, func() bool { return f.registry.Count() == 1 })

	var deliver func(types.ReplicatedEvent)
	select {
	case deliver = <-rep.deliver:
	case <-time.After(2 * time.Second):
		t.Fatal("replicator was not started")
	}

	msg := types.ChatMessage{ID: "r-1", From: "remote", Content: "hello", Timestamp: time.Now().UTC()}
	deliver(types.ReplicatedEvent{Origin: "other-node", Kind: types.ReplicatedMessage, Message: &msg})

	waitFor(t, func() bool { return len(conn.FramesOfType(types.EventMessage)) == 1 })
	assert.Equal(t, "r-1", f.history.Recent(1)[0].ID)

	rep.mu.Lock()
	defer rep.mu.Unlock()
	assert.Empty(t, rep.published, "remote events are not re-published")
}
