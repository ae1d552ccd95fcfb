package buddyup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Server
// ============================================================================

// wsTestServer accepts WebSocket upgrades and hands the server side of each
// connection to the test over a channel.
type wsTestServer struct {
	srv      *httptest.Server
	upgrader gws.Upgrader
	conns    chan *gws.Conn

	mu       sync.Mutex
	accepted int
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ts := &wsTestServer{
		conns:    make(chan *gws.Conn, 8),
		upgrader: gws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ts.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.accepted++
		ts.mu.Unlock()
		ts.conns <- conn
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *wsTestServer) waitConn(t *testing.T) *gws.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for websocket connection")
		return nil
	}
}

func (ts *wsTestServer) acceptedCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.accepted
}

func testSocketConfig(onFrame func([]byte)) SocketConfig {
	return SocketConfig{
		Name:        "test",
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		MaxAttempts: 5,
		OnFrame:     onFrame,
	}
}

func waitState(t *testing.T, m *SocketManager, want ConnState) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		2*time.Second, 5*time.Millisecond, "expected state %s", want)
}

// ============================================================================
// Connect / Receive / Send
// ============================================================================

func TestSocketManagerConnectAndReceive(t *testing.T) {
	ts := newWSTestServer(t)
	frames := make(chan []byte, 8)
	m := newSocketManager(testSocketConfig(func(data []byte) {
		frames <- append([]byte{}, data...)
	}))
	defer m.Shutdown()

	assert.Equal(t, StateIdle, m.State())
	m.Connect(context.Background(), ts.url())

	conn := ts.waitConn(t)
	waitState(t, m, StateOpen)

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"presence","online_user_ids":[1]}`)))
	select {
	case data := <-frames:
		assert.Contains(t, string(data), "presence")
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}

	m.Send(typingFrame{Type: "typing", IsTyping: true})
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"typing"`)
}

func TestSocketManagerQueuesUntilOpen(t *testing.T) {
	ts := newWSTestServer(t)
	m := newSocketManager(testSocketConfig(nil))
	defer m.Shutdown()

	// Written while idle: held until the connection opens.
	m.Send(readAllFrame{Type: "read_all"})

	m.Connect(context.Background(), ts.url())
	conn := ts.waitConn(t)

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "read_all")
}

// ============================================================================
// Reconnection
// ============================================================================

func TestSocketManagerReconnectsAfterDrop(t *testing.T) {
	ts := newWSTestServer(t)
	m := newSocketManager(testSocketConfig(nil))
	defer m.Shutdown()

	m.Connect(context.Background(), ts.url())
	conn := ts.waitConn(t)
	waitState(t, m, StateOpen)

	conn.Close()

	ts.waitConn(t)
	waitState(t, m, StateOpen)
	assert.Equal(t, 2, ts.acceptedCount())
}

func TestSocketManagerGivesUpAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		http.Error(w, "no", http.StatusNotFound)
	}))
	defer srv.Close()

	m := newSocketManager(SocketConfig{
		Name:        "test",
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 3,
	})
	defer m.Shutdown()

	m.Connect(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))

	// Initial dial plus three retries, then nothing.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return requests == 4
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 4, requests)
	mu.Unlock()
	assert.Equal(t, StateClosed, m.State())
}

func TestSocketManagerBackoffDelayCapped(t *testing.T) {
	m := newSocketManager(SocketConfig{
		Name:        "test",
		BaseDelay:   time.Second,
		MaxDelay:    20 * time.Second,
		MaxAttempts: 8,
	})
	// Attempt 5 would be 1s<<5 = 32s uncapped.
	m.mu.Lock()
	m.attempts = 5
	delay := m.cfg.BaseDelay << uint(m.attempts)
	if delay <= 0 || delay > m.cfg.MaxDelay {
		delay = m.cfg.MaxDelay
	}
	m.mu.Unlock()
	assert.Equal(t, 20*time.Second, delay)
}

// ============================================================================
// Target Switching and Shutdown
// ============================================================================

func TestSocketManagerSwitchTargetAbandonsOldConnection(t *testing.T) {
	a := newWSTestServer(t)
	b := newWSTestServer(t)
	m := newSocketManager(testSocketConfig(nil))
	defer m.Shutdown()

	m.Connect(context.Background(), a.url())
	a.waitConn(t)
	waitState(t, m, StateOpen)

	m.Connect(context.Background(), b.url())
	b.waitConn(t)
	waitState(t, m, StateOpen)

	// The old connection's read loop fails when Connect closes it; that
	// failure must not schedule a reconnect to the old endpoint.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, a.acceptedCount())
	assert.Equal(t, 1, b.acceptedCount())
	assert.Equal(t, StateOpen, m.State())
}

func TestSocketManagerPendingRetryVoidedBySwitch(t *testing.T) {
	a := newWSTestServer(t)
	b := newWSTestServer(t)
	m := newSocketManager(SocketConfig{
		Name:        "test",
		BaseDelay:   300 * time.Millisecond,
		MaxDelay:    time.Second,
		MaxAttempts: 5,
	})
	defer m.Shutdown()

	m.Connect(context.Background(), a.url())
	connA := a.waitConn(t)
	waitState(t, m, StateOpen)

	// Drop the connection so a reconnect to A gets scheduled, then switch
	// to B before the timer fires.
	connA.Close()
	waitState(t, m, StateClosed)
	m.Connect(context.Background(), b.url())

	b.waitConn(t)
	waitState(t, m, StateOpen)

	// A's retry timer fires into a superseded generation and must not dial.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, a.acceptedCount())
	assert.Equal(t, StateOpen, m.State())
}

func TestSocketManagerShutdownCancelsReconnect(t *testing.T) {
	ts := newWSTestServer(t)
	m := newSocketManager(testSocketConfig(nil))

	m.Connect(context.Background(), ts.url())
	conn := ts.waitConn(t)
	waitState(t, m, StateOpen)

	m.Shutdown()
	assert.Equal(t, StateClosed, m.State())

	// The server-side close that follows must not resurrect the connection.
	conn.Close()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, ts.acceptedCount())
	assert.Equal(t, StateClosed, m.State())
}
