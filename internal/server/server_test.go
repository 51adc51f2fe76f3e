package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentshell/termmux/internal/backend"
	"github.com/agentshell/termmux/internal/config"
	"github.com/agentshell/termmux/internal/logging"
	"github.com/agentshell/termmux/internal/protocol"
)

// stubChannel is an in-memory backend for handler tests.
type stubChannel struct {
	hub *backend.Hub

	mu      sync.Mutex
	created int
	writes  []string
	resizes []string
	closed  []string
}

func newStubChannel() *stubChannel {
	return &stubChannel{hub: backend.NewHub()}
}

func (f *stubChannel) Create(ctx context.Context, cfg backend.SessionConfig) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return fmt.Sprintf("sess_%d", f.created), nil
}

func (f *stubChannel) Write(sid string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, sid+":"+string(data))
	return nil
}

func (f *stubChannel) Resize(sid string, rows, cols int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, fmt.Sprintf("%s:%d:%d", sid, rows, cols))
	return nil
}

func (f *stubChannel) Close(sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sid)
	return nil
}

func (f *stubChannel) Subscribe() *backend.Subscription { return f.hub.Subscribe() }

func (f *stubChannel) Shutdown() error {
	f.hub.Close()
	return nil
}

func (f *stubChannel) snapshot() (int, []string, []string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created,
		append([]string(nil), f.writes...),
		append([]string(nil), f.resizes...),
		append([]string(nil), f.closed...)
}

func newTestServer(t *testing.T) (*Server, *stubChannel, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Mux.ResizeDebounce = 0 // deterministic resize assertions
	channel := newStubChannel()
	srv := New(cfg, logging.NewNop(), channel)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv, channel, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func readFrame(t *testing.T, conn *websocket.Conn, want string) protocol.StreamMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg protocol.StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("X-Request-ID"), "req_"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	_, channel, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/sessions", "application/json",
		strings.NewReader(`{"kind":"bash","cwd":"/tmp"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var info protocol.SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "sess_1", info.ID)
	assert.Equal(t, "connected", info.Status)
	assert.True(t, info.Active)

	list, err := http.Get(ts.URL + "/sessions")
	require.NoError(t, err)
	defer list.Body.Close()
	var sessions []protocol.SessionInfo
	require.NoError(t, json.NewDecoder(list.Body).Decode(&sessions))
	require.Len(t, sessions, 1)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/sess_1", nil)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	_, _, _, closed := channel.snapshot()
	assert.Equal(t, []string{"sess_1"}, closed)
}

func TestCloseUnknownSession(t *testing.T) {
	_, _, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/nope", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAttachAutoCreatesAndStreams(t *testing.T) {
	_, channel, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/attach"), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Attaching made the panel visible, which auto-created a session.
	require.Eventually(t, func() bool {
		created, _, _, _ := channel.snapshot()
		return created == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Live output for the active session reaches the surface.
	channel.hub.Publish(backend.Event{
		Type:      backend.EventOutput,
		SessionID: "sess_1",
		Data:      "hello",
	})
	msg := readFrame(t, conn, protocol.TypeOutput)
	assert.Equal(t, "hello", msg.Data)

	// Keystrokes flow the reverse path.
	require.NoError(t, conn.WriteJSON(protocol.StreamMessage{
		Type: protocol.TypeInput,
		Data: "ls\n",
	}))
	require.Eventually(t, func() bool {
		_, writes, _, _ := channel.snapshot()
		return len(writes) == 1 && writes[0] == "sess_1:ls\n"
	}, 2*time.Second, 10*time.Millisecond)

	// Geometry reports dedup before reaching the backend.
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(protocol.StreamMessage{
			Type: protocol.TypeResize,
			Rows: 24,
			Cols: 80,
		}))
	}
	require.Eventually(t, func() bool {
		_, _, resizes, _ := channel.snapshot()
		return len(resizes) == 1 && resizes[0] == "sess_1:24:80"
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	_, _, resizes, _ := channel.snapshot()
	assert.Equal(t, []string{"sess_1:24:80"}, resizes)
}

// Closing the attach socket leaves buffers intact; the next attach shows
// everything the active session printed in between.
func TestReattachRestoresMissedOutput(t *testing.T) {
	_, channel, ts := newTestServer(t)

	first, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/attach"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		created, _, _, _ := channel.snapshot()
		return created == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Close())

	// Output keeps arriving while no surface is attached.
	channel.hub.Publish(backend.Event{
		Type:      backend.EventOutput,
		SessionID: "sess_1",
		Data:      "missed",
	})

	// The attach slot frees once the server notices the disconnect.
	var second *websocket.Conn
	require.Eventually(t, func() bool {
		conn, resp, dialErr := websocket.DefaultDialer.Dial(wsURL(ts, "/attach"), nil)
		if dialErr != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return false
		}
		second = conn
		return true
	}, 2*time.Second, 10*time.Millisecond)
	defer second.Close()

	msg := readFrame(t, second, protocol.TypeOutput)
	assert.Equal(t, "missed", msg.Data)
}

func TestSecondAttachRejected(t *testing.T) {
	_, _, ts := newTestServer(t)

	first, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/attach"), nil)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/attach"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHostStreamForwardsEvents(t *testing.T) {
	_, channel, ts := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/api/stream"), nil)
	require.NoError(t, err)
	defer conn.Close()

	code := 7
	channel.hub.Publish(backend.Event{
		Type:      backend.EventExit,
		SessionID: "sess_9",
		Code:      &code,
	})

	msg := readFrame(t, conn, protocol.TypeExit)
	assert.Equal(t, "sess_9", msg.SessionID)
	require.NotNil(t, msg.Code)
	assert.Equal(t, 7, *msg.Code)
}

func TestHostCreateAndClose(t *testing.T) {
	_, channel, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/sessions", "application/json",
		strings.NewReader(`{"kind":"zsh"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out protocol.CreateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "sess_1", out.SessionID)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/sess_1", nil)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	_, _, _, closed := channel.snapshot()
	assert.Equal(t, []string{"sess_1"}, closed)
}
