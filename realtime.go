package buddyup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnState represents the state of one socket connection.
type ConnState string

const (
	StateIdle       ConnState = "idle"
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

const (
	defaultReconnectBase     = 1 * time.Second
	defaultReconnectMax      = 20 * time.Second
	defaultReconnectAttempts = 8
	socketWriteTimeout       = 10 * time.Second
)

// ============================================================================
// Socket Manager
// ============================================================================

// SocketConfig configures a SocketManager.
type SocketConfig struct {
	Name        string // channel name, used in logs
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Logger      zerolog.Logger
	OnFrame     func(data []byte)
	OnState     func(state ConnState)
}

func (c *SocketConfig) defaults() {
	if c.BaseDelay == 0 {
		c.BaseDelay = defaultReconnectBase
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaultReconnectMax
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultReconnectAttempts
	}
}

// SocketManager owns exactly one logical connection to a real-time endpoint.
// It delivers raw inbound frames to OnFrame and recovers from drops with
// bounded exponential backoff. Outbound frames written while the connection
// is not open are queued and flushed on the next successful open.
//
// Every Connect or Shutdown bumps an internal generation counter; dial
// results, read loops, retry timers, and inbound frame dispatch from an
// earlier generation detect the mismatch and become no-ops. This is what
// keeps a superseded connection from resurrecting itself through its retry
// timer, or from delivering late frames after a newer Connect took over.
type SocketManager struct {
	cfg SocketConfig

	mu         sync.Mutex
	conn       *websocket.Conn
	state      ConnState
	target     string // desired endpoint URL; empty once shut down
	attempts   int
	gen        int
	queue      [][]byte
	retryTimer *time.Timer
}

func newSocketManager(cfg SocketConfig) *SocketManager {
	cfg.defaults()
	return &SocketManager{cfg: cfg, state: StateIdle}
}

// State returns the current connection state.
func (m *SocketManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect closes any existing connection for this manager and dials targetURL.
func (m *SocketManager) Connect(ctx context.Context, targetURL string) {
	m.connect(ctx, targetURL, nil)
}

// ConnectWithHandler is Connect with a replacement frame handler. The swap
// happens in the same critical section that supersedes the old connection,
// so a frame read from the old connection can never reach fn.
func (m *SocketManager) ConnectWithHandler(ctx context.Context, targetURL string, fn func(data []byte)) {
	m.connect(ctx, targetURL, fn)
}

func (m *SocketManager) connect(ctx context.Context, targetURL string, onFrame func(data []byte)) {
	m.mu.Lock()
	m.gen++
	if onFrame != nil {
		m.cfg.OnFrame = onFrame
	}
	gen := m.gen
	m.target = targetURL
	m.attempts = 0
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	old := m.conn
	m.conn = nil
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if old != nil {
		old.Close(websocket.StatusNormalClosure, "superseded")
	}
	go m.dial(ctx, targetURL, gen)
}

// Shutdown tears the connection down and cancels any pending reconnect.
// The manager stays in closed state until the next Connect.
func (m *SocketManager) Shutdown() {
	m.mu.Lock()
	m.gen++
	m.target = ""
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.queue = nil
	if m.state != StateIdle {
		m.setStateLocked(StateClosed)
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client shutdown")
	}
}

// Send marshals v and writes it to the live connection, fire-and-forget.
// If the connection is not open the frame is queued for the next open.
func (m *SocketManager) Send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	m.mu.Lock()
	if m.state != StateOpen || m.conn == nil {
		m.queue = append(m.queue, data)
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	m.write(conn, data)
}

func (m *SocketManager) write(conn *websocket.Conn, data []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), socketWriteTimeout)
		defer cancel()
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			m.cfg.Logger.Debug().Str("socket", m.cfg.Name).Err(err).Msg("socket write failed")
		}
	}()
}

func (m *SocketManager) dial(ctx context.Context, targetURL string, gen int) {
	conn, resp, err := websocket.Dial(ctx, targetURL, nil) //nolint:bodyclose
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "stale dial")
		}
		return
	}
	if err != nil {
		m.cfg.Logger.Debug().Str("socket", m.cfg.Name).Err(err).Msg("dial failed")
		m.setStateLocked(StateClosed)
		m.scheduleReconnectLocked(ctx, gen)
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.attempts = 0
	queued := m.queue
	m.queue = nil
	m.setStateLocked(StateOpen)
	m.mu.Unlock()

	if len(queued) > 0 {
		go func() {
			for _, data := range queued {
				wctx, cancel := context.WithTimeout(context.Background(), socketWriteTimeout)
				err := conn.Write(wctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					m.cfg.Logger.Debug().Str("socket", m.cfg.Name).Err(err).Msg("queued write failed")
					return
				}
			}
		}()
	}
	go m.readLoop(ctx, conn, gen)
}

func (m *SocketManager) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.mu.Lock()
			if gen != m.gen {
				// Superseded by a newer Connect or Shutdown.
				m.mu.Unlock()
				return
			}
			m.conn = nil
			m.setStateLocked(StateClosed)
			m.scheduleReconnectLocked(ctx, gen)
			m.mu.Unlock()
			return
		}
		m.mu.Lock()
		if gen != m.gen {
			// A newer Connect or Shutdown took over while this frame was in
			// flight. Dropping it keeps late data from a superseded
			// connection out of the current handler.
			m.mu.Unlock()
			return
		}
		onFrame := m.cfg.OnFrame
		m.mu.Unlock()
		if onFrame != nil {
			onFrame(data)
		}
	}
}

// scheduleReconnectLocked arms the backoff timer. Caller holds mu.
func (m *SocketManager) scheduleReconnectLocked(ctx context.Context, gen int) {
	if m.target == "" {
		return
	}
	if m.attempts >= m.cfg.MaxAttempts {
		m.cfg.Logger.Warn().Str("socket", m.cfg.Name).Int("attempts", m.attempts).
			Msg("reconnect attempts exhausted")
		return
	}

	delay := m.cfg.BaseDelay << uint(m.attempts)
	if delay <= 0 || delay > m.cfg.MaxDelay {
		delay = m.cfg.MaxDelay
	}
	m.attempts++
	target := m.target

	m.cfg.Logger.Debug().Str("socket", m.cfg.Name).Int("attempt", m.attempts).
		Dur("delay", delay).Msg("scheduling reconnect")

	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		// Reconnect only if this endpoint is still the one the manager wants
		// and nothing newer took over in the meantime.
		if gen != m.gen || m.target != target || m.state != StateClosed {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(StateConnecting)
		m.mu.Unlock()
		go m.dial(ctx, target, gen)
	})
}

func (m *SocketManager) setStateLocked(s ConnState) {
	if m.state == s {
		return
	}
	m.state = s
	if cb := m.cfg.OnState; cb != nil {
		go cb(s)
	}
}
