package buddyup

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultSendFallback = 7 * time.Second

// ============================================================================
// Session Config
// ============================================================================

// SessionConfig configures a ChatSession.
type SessionConfig struct {
	// LocalUser identifies the authenticated user. It stamps optimistic
	// messages and filters out the user's own typing frames.
	LocalUser User

	// SendFallback is how long a socket send may go unconfirmed before the
	// coordinator falls back to REST. Defaults to 7 seconds.
	SendFallback time.Duration

	// Reconnect tuning for both sockets. Zero values take the defaults
	// (1 second base, 20 second cap, 8 attempts).
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int

	// Logger defaults to a disabled logger.
	Logger zerolog.Logger
}

func (c *SessionConfig) defaults() {
	if c.SendFallback == 0 {
		c.SendFallback = defaultSendFallback
	}
}

// ============================================================================
// Chat Session
// ============================================================================

// ChatSession is the real-time chat engine. It owns two socket managers (the
// conversations feed and the per-conversation chat channel), the message
// store, and the conversation registry, and exposes the snapshot/action
// surface a UI consumes.
//
// A session is constructed at login and disposed at logout via Start/Stop.
// Network and protocol failures never propagate out of the engine; consumers
// observe them only through connection states and message presence.
type ChatSession struct {
	client *Client
	cfg    SessionConfig
	log    zerolog.Logger

	convSocket *SocketManager
	chatSocket *SocketManager

	store    *messageStore
	registry *conversationRegistry

	mu         sync.Mutex
	started    bool
	ctx        context.Context
	cancel     context.CancelFunc
	activeConv int64
	peerTyping bool
	online     []int64
	sending    int
	// timers maps an optimistic message's local ID to its armed REST
	// fallback timer. Entries are removed on reconciliation, fallback
	// execution, and session teardown so no timer outlives its send.
	timers map[string]*time.Timer

	listenerMu sync.Mutex
	listeners  []func()
}

// NewChatSession creates a session bound to an authenticated client.
// Call Start to open the conversations feed.
func NewChatSession(client *Client, cfg SessionConfig) *ChatSession {
	cfg.defaults()
	s := &ChatSession{
		client:   client,
		cfg:      cfg,
		log:      cfg.Logger,
		store:    newMessageStore(),
		registry: newConversationRegistry(),
		timers:   make(map[string]*time.Timer),
	}

	s.convSocket = newSocketManager(SocketConfig{
		Name:        "conversations",
		BaseDelay:   cfg.ReconnectBase,
		MaxDelay:    cfg.ReconnectMax,
		MaxAttempts: cfg.MaxReconnectAttempts,
		Logger:      cfg.Logger,
		OnFrame:     s.handleConversationsFrame,
		OnState:     func(ConnState) { s.notify() },
	})
	// The chat socket gets its frame handler at connect time, bound to the
	// conversation the socket is opened for.
	s.chatSocket = newSocketManager(SocketConfig{
		Name:        "chat",
		BaseDelay:   cfg.ReconnectBase,
		MaxDelay:    cfg.ReconnectMax,
		MaxAttempts: cfg.MaxReconnectAttempts,
		Logger:      cfg.Logger,
		OnState:     func(ConnState) { s.notify() },
	})
	return s
}

// Start opens the conversations feed. Calling Start on a running session is
// a no-op.
func (s *ChatSession) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.ctx, s.cancel = ctx, cancel
	s.mu.Unlock()

	s.convSocket.Connect(ctx, s.client.ConversationsSocketURL())
}

// Stop tears down both sockets, cancels every pending fallback timer and
// in-flight request, and clears all in-memory state.
func (s *ChatSession) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.ctx, s.cancel = nil, nil
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.activeConv = 0
	s.peerTyping = false
	s.online = nil
	s.sending = 0
	s.mu.Unlock()

	cancel()
	s.convSocket.Shutdown()
	s.chatSocket.Shutdown()
	s.store.clear()
	s.registry.clear()
	s.notify()
}

// ============================================================================
// Actions
// ============================================================================

// SetActiveConversation switches the chat channel to a conversation: the
// previous chat socket is torn down, the peer-typing flag is cleared, a new
// chat socket is opened, and message history is fetched over REST. A history
// frame from the socket overwrites the REST result if it arrives later.
func (s *ChatSession) SetActiveConversation(conversationID int64) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.activeConv = conversationID
	s.peerTyping = false
	s.mu.Unlock()

	// One connect does the teardown: the manager closes the previous
	// connection and invalidates its pending reconnect timer. Binding the
	// conversation ID into the handler here means frames arriving on this
	// socket can only ever be attributed to this conversation, even if the
	// user has already switched again by the time they are processed.
	s.chatSocket.ConnectWithHandler(ctx, s.client.ChatSocketURL(conversationID), func(data []byte) {
		s.handleChatFrame(conversationID, data)
	})

	go s.loadHistory(ctx, conversationID)
	s.notify()
}

func (s *ChatSession) loadHistory(ctx context.Context, conversationID int64) {
	messages, err := s.client.Messages.List(ctx, conversationID)
	if err != nil {
		s.log.Warn().Int64("conversation", conversationID).Err(err).
			Msg("history fetch failed")
		return
	}
	s.store.replaceHistory(conversationID, messages)
	s.notify()
}

// SendMessage sends user-authored text to the active conversation. The
// message renders immediately as an optimistic entry; delivery goes over the
// chat socket when it is open, with a REST fallback if the server does not
// echo the message back within the fallback deadline. A send that fails on
// both paths removes the optimistic entry.
//
// Empty or whitespace-only text is rejected without any state change.
func (s *ChatSession) SendMessage(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if !s.started || s.activeConv == 0 {
		s.mu.Unlock()
		return
	}
	conversationID := s.activeConv
	ctx := s.ctx
	s.mu.Unlock()

	localID := s.store.appendOptimistic(conversationID, text, s.cfg.LocalUser)
	socketOpen := s.chatSocket.State() == StateOpen

	s.mu.Lock()
	s.sending++
	if socketOpen {
		s.timers[localID] = time.AfterFunc(s.cfg.SendFallback, func() {
			s.fallbackSend(ctx, conversationID, localID, text)
		})
	}
	s.mu.Unlock()
	s.notify()

	if socketOpen {
		s.chatSocket.Send(messageFrame{Type: "message", Text: text})
	} else {
		go s.fallbackSend(ctx, conversationID, localID, text)
	}
}

// fallbackSend delivers one optimistic message over REST and reconciles the
// placeholder with the result. It runs when the socket path was unavailable
// or went unconfirmed past the deadline; the conversation it targets may no
// longer be the active one, and its list is still updated.
func (s *ChatSession) fallbackSend(ctx context.Context, conversationID int64, localID, text string) {
	s.mu.Lock()
	delete(s.timers, localID)
	s.mu.Unlock()

	s.log.Debug().Int64("conversation", conversationID).Msg("sending message over REST")

	msg, err := s.client.Messages.Create(ctx, conversationID, text)
	if err != nil {
		s.log.Warn().Int64("conversation", conversationID).Err(err).
			Msg("send failed on both paths, dropping optimistic message")
		s.store.removeOptimistic(conversationID, localID)
	} else {
		s.store.replaceOptimistic(conversationID, localID, *msg)
		s.registry.applyMessage(*msg, false)
	}

	s.mu.Lock()
	s.sending--
	s.mu.Unlock()
	s.notify()
}

// SetTyping transmits the local user's typing state. Callers are expected to
// debounce; the frame is queued if the socket is not open yet.
func (s *ChatSession) SetTyping(typing bool) {
	s.mu.Lock()
	started := s.started && s.activeConv != 0
	s.mu.Unlock()
	if !started {
		return
	}
	s.chatSocket.Send(typingFrame{Type: "typing", IsTyping: typing})
}

// MarkAllRead zeroes the active conversation's unread count locally and
// notifies the server.
func (s *ChatSession) MarkAllRead() {
	s.mu.Lock()
	conversationID := s.activeConv
	started := s.started
	s.mu.Unlock()
	if !started || conversationID == 0 {
		return
	}

	s.registry.markRead(conversationID)
	s.chatSocket.Send(readAllFrame{Type: "read_all"})
	s.notify()
}

// ============================================================================
// Snapshots
// ============================================================================

// Conversations returns the conversation list, sorted by recency.
func (s *ChatSession) Conversations() []Conversation {
	return s.registry.snapshot()
}

// Messages returns the active conversation's message list.
func (s *ChatSession) Messages() []Message {
	s.mu.Lock()
	conversationID := s.activeConv
	s.mu.Unlock()
	if conversationID == 0 {
		return nil
	}
	return s.store.snapshot(conversationID)
}

// ActiveConversation returns the active conversation ID, zero if none.
func (s *ChatSession) ActiveConversation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeConv
}

// ConnectionStates returns the conversations-channel and chat-channel states.
func (s *ChatSession) ConnectionStates() (conversations, chat ConnState) {
	return s.convSocket.State(), s.chatSocket.State()
}

// PeerTyping reports whether the buddy in the active conversation is typing.
func (s *ChatSession) PeerTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerTyping
}

// OnlineUserIDs returns the last presence snapshot.
func (s *ChatSession) OnlineUserIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64{}, s.online...)
}

// Sending reports whether any outbound send is still unresolved. This is a
// UI affordance only; it never blocks further sends.
func (s *ChatSession) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending > 0
}

// OnChange registers fn to run after every observable state change. Panics
// in consumer callbacks are swallowed.
func (s *ChatSession) OnChange(fn func()) {
	s.listenerMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenerMu.Unlock()
}

func (s *ChatSession) notify() {
	s.listenerMu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.listenerMu.Unlock()
	for _, fn := range listeners {
		func() {
			defer func() { recover() }()
			fn()
		}()
	}
}

// ============================================================================
// Inbound Dispatch
// ============================================================================

func (s *ChatSession) handleConversationsFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return // malformed frames are dropped
	}

	switch f.Type {
	case "conversations":
		s.registry.replaceAll(f.Conversations)
		s.notify()
	case "conversation_update":
		if f.Conversation == nil {
			return
		}
		s.registry.upsert(*f.Conversation)
		s.notify()
	default:
		// unrecognized frame type, ignore
	}
}

// handleChatFrame processes one frame from the chat channel. conversationID
// is the conversation the socket was opened for, captured at connect time;
// history is always filed under it, and ephemeral state (typing, presence) is
// applied only while it is still the active conversation.
func (s *ChatSession) handleChatFrame(conversationID int64, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return // malformed frames are dropped
	}

	switch f.Type {
	case "history":
		s.store.replaceHistory(conversationID, f.Messages)
		s.notify()

	case "typing":
		if f.UserID == s.cfg.LocalUser.ID {
			return
		}
		s.mu.Lock()
		if s.activeConv != conversationID {
			s.mu.Unlock()
			return
		}
		s.peerTyping = f.IsTyping
		s.mu.Unlock()
		s.notify()

	case "presence":
		s.mu.Lock()
		if s.activeConv != conversationID {
			s.mu.Unlock()
			return
		}
		s.online = append([]int64{}, f.OnlineUserIDs...)
		s.mu.Unlock()
		s.notify()

	case "ack", "delivered", "read", "read_all":
		// acknowledgments carry no state for the stores

	case "":
		if msg, ok := decodeBareMessage(data); ok {
			s.handleInboundMessage(msg)
		}

	default:
		// unrecognized frame type, ignore
	}
}

func (s *ChatSession) handleInboundMessage(msg Message) {
	mergedLocalID, changed := s.store.appendConfirmed(msg)

	if mergedLocalID != "" {
		// The socket echoed one of our own sends back before the fallback
		// deadline; settle the pending timer so no REST call fires.
		s.mu.Lock()
		if t, ok := s.timers[mergedLocalID]; ok {
			delete(s.timers, mergedLocalID)
			if t.Stop() {
				s.sending--
			}
		}
		s.mu.Unlock()
	}

	if msg.Sender.ID != s.cfg.LocalUser.ID {
		s.chatSocket.Send(deliveredFrame{Type: "delivered", MessageID: msg.ID})

		s.mu.Lock()
		active := s.activeConv
		s.mu.Unlock()
		s.registry.applyMessage(msg, msg.Conversation != active)
	} else if changed {
		s.registry.applyMessage(msg, false)
	}

	if changed || mergedLocalID != "" {
		s.notify()
	}
}
