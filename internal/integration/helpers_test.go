package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"chatrelay/internal/api"
	"chatrelay/internal/app"
	"chatrelay/internal/config"
	"chatrelay/internal/testutil"
)

const readTimeout = 2 * time.Second

// relay is a running application bound to an ephemeral port
type relay struct {
	t    *testing.T
	addr string
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Env = "test"
	cfg.LogLevel = "error"
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	cfg.Archive.Path = filepath.Join(t.TempDir(), "transcript.db")
	cfg.Moderation.Words = []string{"spam"}
	return cfg
}

func startRelay(t *testing.T, cfg *config.Config) *relay {
	t.Helper()
	application, err := app.NewApplication(cfg)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(ctx)
	})
	return &relay{t: t, addr: application.GetAddr()}
}

func (r *relay) getJSON(path string, v any) int {
	r.t.Helper()
	resp, err := http.Get("http://" + r.addr + path)
	require.NoError(r.t, err)
	defer resp.Body.Close()
	require.NoError(r.t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func (r *relay) health() api.HealthResponse {
	var h api.HealthResponse
	r.getJSON("/health", &h)
	return h
}

// waitConnections blocks until the relay has registered n connections
func (r *relay) waitConnections(n int) {
	r.t.Helper()
	require.Eventually(r.t, func() bool {
		return r.health().Connections == n
	}, readTimeout, 10*time.Millisecond, "expected %d connections", n)
}

// client is one WebSocket peer
type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func (r *relay) dial() *client {
	r.t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+r.addr+"/ws", nil)
	require.NoError(r.t, err)
	c := &client{t: r.t, ws: ws}
	r.t.Cleanup(func() { _ = ws.Close() })
	return c
}

// connect dials and waits until the relay has registered the new connection
func (r *relay) connect() *client {
	r.t.Helper()
	before := r.health().Connections
	c := r.dial()
	r.waitConnections(before + 1)
	return c
}

func (c *client) send(raw string) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (c *client) sendMessage(content string) {
	c.t.Helper()
	data, err := json.Marshal(map[string]string{"type": "message", "content": content})
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

func (c *client) next() testutil.Frame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := c.ws.ReadMessage()
	require.NoError(c.t, err)

	var f testutil.Frame
	require.NoError(c.t, json.Unmarshal(data, &f))
	f.Raw = data
	return f
}

// expect reads the next frame and requires it to be of type typ
func (c *client) expect(typ string) testutil.Frame {
	c.t.Helper()
	f := c.next()
	require.Equal(c.t, typ, f.Type, "unexpected frame %s", string(f.Raw))
	return f
}

// expectNothing requires that no frame arrives within d. A timed out
// gorilla connection cannot be read again, so this must be the last read.
func (c *client) expectNothing(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(d)))
	_, data, err := c.ws.ReadMessage()
	require.Error(c.t, err, "unexpected frame %s", string(data))
}

// join sends a join and consumes the joiner's welcome, own presence and
// history frames.
func (c *client) join(username string) (sessionID string, history []testutil.Frame) {
	c.t.Helper()
	c.send(fmt.Sprintf(`{"type":"join","username":%q}`, username))
	welcome := c.expect("welcome")
	presence := c.expect("presence")
	require.Equal(c.t, "join", presence.Event)
	require.Equal(c.t, username, presence.Username)
	h := c.expect("history")
	return welcome.SessionID, h.Messages
}
