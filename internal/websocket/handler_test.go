package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"chatrelay/pkg/interfaces"
)

// echoDispatcher records lifecycle calls and echoes every frame back
type echoDispatcher struct {
	mu           sync.Mutex
	connected    []string
	frames       []string
	disconnected chan string
}

func newEchoDispatcher() *echoDispatcher {
	return &echoDispatcher{disconnected: make(chan string, 8)}
}

func (d *echoDispatcher) Connect(ctx context.Context, conn interfaces.Connection) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = append(d.connected, conn.GetID())
	return nil
}

func (d *echoDispatcher) Dispatch(ctx context.Context, conn interfaces.Connection, data []byte) error {
	d.mu.Lock()
	d.frames = append(d.frames, string(data))
	d.mu.Unlock()
	return conn.WriteRaw(data)
}

func (d *echoDispatcher) Disconnect(ctx context.Context, conn interfaces.Connection) error {
	d.disconnected <- conn.GetID()
	return nil
}

func startServer(t *testing.T, d Dispatcher, cfg HandlerConfig) string {
	t.Helper()
	h := NewHandler(d, cfg)
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestHandlerForwardsFramesInOrder(t *testing.T) {
	d := newEchoDispatcher()
	url := startServer(t, d, DefaultHandlerConfig())

	client, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	for _, msg := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		require.NoError(t, client.WriteMessage(gorillaws.TextMessage, []byte(msg)))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for _, want := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}

func TestHandlerDisconnectsOnClientClose(t *testing.T) {
	d := newEchoDispatcher()
	url := startServer(t, d, DefaultHandlerConfig())

	client, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	select {
	case id := <-d.disconnected:
		d.mu.Lock()
		defer d.mu.Unlock()
		require.Len(t, d.connected, 1)
		assert.Equal(t, d.connected[0], id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect was not dispatched")
	}
}

func TestHandlerEnforcesFrameLimit(t *testing.T) {
	d := newEchoDispatcher()
	cfg := DefaultHandlerConfig()
	cfg.MaxFrameBytes = 64
	url := startServer(t, d, cfg)

	client, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(gorillaws.TextMessage, []byte(strings.Repeat("x", 1024))))

	select {
	case <-d.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("oversized frame did not close the connection")
	}
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	d := newEchoDispatcher()
	cfg := DefaultHandlerConfig()
	cfg.AllowedOrigins = []string{"chat.example.com"}
	url := startServer(t, d, cfg)

	header := http.Header{}
	header.Set("Origin", "http://evil.example.net")
	_, resp, err := gorillaws.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://chat.example.com")
	client, _, err := gorillaws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	client.Close()
}

func TestConnectionWriteAfterClose(t *testing.T) {
	d := newEchoDispatcher()
	url := startServer(t, d, DefaultHandlerConfig())

	client, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	conn := NewConnection(client, Options{SendBuffer: 1, WriteTimeout: time.Second})
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	assert.True(t, conn.IsClosed())
	assert.ErrorIs(t, conn.WriteRaw([]byte(`{}`)), interfaces.ErrConnectionClosed)
	assert.ErrorIs(t, conn.WriteJSON(map[string]string{"a": "b"}), interfaces.ErrConnectionClosed)
	assert.ErrorIs(t, conn.WriteJSON(make(chan int)), ErrInvalidJSON)
}

func TestConnectionSessionBinding(t *testing.T) {
	conn := &Connection{id: "c"}
	assert.Equal(t, "", conn.GetSessionID())
	conn.SetSessionID("s-1")
	assert.Equal(t, "s-1", conn.GetSessionID())
	conn.SetSessionID("")
	assert.Equal(t, "", conn.GetSessionID())
}
