package buddyup

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Message Store
// ============================================================================

// messageStore is the single source of truth for per-conversation message
// lists. It deduplicates by message identity, keeps each list in ascending
// created_at order (stable, so equal timestamps keep insertion order), and
// reconciles optimistic entries against their server-confirmed counterparts.
//
// All mutations build a fresh slice and swap it in whole, so snapshots handed
// out earlier are never mutated underneath a reader.
type messageStore struct {
	mu     sync.Mutex
	byConv map[int64][]Message
}

func newMessageStore() *messageStore {
	return &messageStore{byConv: make(map[int64][]Message)}
}

// snapshot returns a copy of one conversation's message list.
func (s *messageStore) snapshot(conversationID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message{}, s.byConv[conversationID]...)
}

// appendConfirmed merges a server-confirmed message into its conversation.
// Appending an ID that is already present is a no-op. If an optimistic entry
// from the same sender with the same text exists, the confirmed message
// replaces it in place and the optimistic entry's local ID is returned so the
// caller can settle its pending send. Otherwise the message is appended.
//
// Matching by (sender, text) is a heuristic: the wire protocol carries no
// client correlation ID for the server to echo back, so two rapid identical
// sends can reconcile against each other's echo.
func (s *messageStore) appendConfirmed(msg Message) (mergedLocalID string, changed bool) {
	if msg.Conversation == 0 {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.byConv[msg.Conversation]
	for i := range list {
		if !list[i].Optimistic && list[i].ID == msg.ID {
			return "", false
		}
	}

	next := append([]Message{}, list...)
	replaced := false
	for i := range next {
		if next[i].Optimistic && next[i].Sender.ID == msg.Sender.ID && next[i].Text == msg.Text {
			mergedLocalID = next[i].LocalID
			next[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		next = append(next, msg)
	}

	s.byConv[msg.Conversation] = normalizeMessages(next)
	return mergedLocalID, true
}

// appendOptimistic inserts a locally generated placeholder at the end of the
// conversation's list and returns its temporary ID.
func (s *messageStore) appendOptimistic(conversationID int64, text string, sender User) string {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	msg := Message{
		Conversation: conversationID,
		Sender:       sender,
		Text:         text,
		CreatedAt:    now,
		UpdatedAt:    now,
		LocalID:      fmt.Sprintf("temp-%d-%s", time.Now().UnixMilli(), uuid.NewString()),
		Optimistic:   true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConv[conversationID] = normalizeMessages(append(append([]Message{}, s.byConv[conversationID]...), msg))
	return msg.LocalID
}

// replaceOptimistic swaps the placeholder for the confirmed message,
// preserving its position in the list.
func (s *messageStore) replaceOptimistic(conversationID int64, localID string, confirmed Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.byConv[conversationID]
	for i := range list {
		if list[i].Optimistic && list[i].LocalID == localID {
			next := append([]Message{}, list...)
			next[i] = confirmed
			s.byConv[conversationID] = normalizeMessages(next)
			return true
		}
	}
	return false
}

// removeOptimistic deletes the placeholder, used when a send ultimately fails.
func (s *messageStore) removeOptimistic(conversationID int64, localID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.byConv[conversationID]
	for i := range list {
		if list[i].Optimistic && list[i].LocalID == localID {
			next := append([]Message{}, list[:i]...)
			next = append(next, list[i+1:]...)
			s.byConv[conversationID] = next
			return true
		}
	}
	return false
}

// replaceHistory replaces a conversation's confirmed messages, deduplicated
// and sorted. Pending optimistic entries survive the replace since the server
// does not know about them yet. Used for REST history loads and socket
// history frames.
func (s *messageStore) replaceHistory(conversationID int64, messages []Message) {
	for i := range messages {
		if messages[i].Conversation == 0 {
			messages[i].Conversation = conversationID
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := append([]Message{}, messages...)
	for _, m := range s.byConv[conversationID] {
		if m.Optimistic {
			next = append(next, m)
		}
	}
	s.byConv[conversationID] = normalizeMessages(next)
}

// clear drops all message state, used on session teardown.
func (s *messageStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byConv = make(map[int64][]Message)
}

// normalizeMessages deduplicates by identity (first occurrence wins) and
// stable-sorts ascending by created_at, so equal timestamps keep insertion
// order. Timestamps are ISO 8601 strings and compare lexicographically.
func normalizeMessages(list []Message) []Message {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, m := range list {
		key := m.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

// ============================================================================
// Conversation Registry
// ============================================================================

// conversationRegistry holds the user's conversations, sorted descending by
// updated_at. Upserts merge: fields the update omits keep their prior value.
type conversationRegistry struct {
	mu    sync.Mutex
	items []Conversation
}

func newConversationRegistry() *conversationRegistry {
	return &conversationRegistry{}
}

// snapshot returns a copy of the sorted conversation list.
func (r *conversationRegistry) snapshot() []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Conversation{}, r.items...)
}

// replaceAll swaps in a full server snapshot.
func (r *conversationRegistry) replaceAll(conversations []Conversation) {
	next := append([]Conversation{}, conversations...)
	sortConversations(next)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = next
}

// upsert inserts or merges a single conversation and restores sort order.
func (r *conversationRegistry) upsert(c Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := append([]Conversation{}, r.items...)
	found := false
	for i := range next {
		if next[i].ID == c.ID {
			next[i] = mergeConversation(next[i], c)
			found = true
			break
		}
	}
	if !found {
		next = append(next, c)
	}
	sortConversations(next)
	r.items = next
}

// applyMessage updates a conversation's preview and recency from an inbound
// message, optionally incrementing its unread count.
func (r *conversationRegistry) applyMessage(msg Message, incrementUnread bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := append([]Conversation{}, r.items...)
	for i := range next {
		if next[i].ID == msg.Conversation {
			m := msg
			next[i].LastMessage = &m
			if msg.CreatedAt > next[i].UpdatedAt {
				next[i].UpdatedAt = msg.CreatedAt
			}
			if incrementUnread {
				next[i].UnreadCount++
			}
			break
		}
	}
	sortConversations(next)
	r.items = next
}

// markRead zeroes a conversation's unread count.
func (r *conversationRegistry) markRead(conversationID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := append([]Conversation{}, r.items...)
	for i := range next {
		if next[i].ID == conversationID {
			next[i].UnreadCount = 0
			break
		}
	}
	r.items = next
}

// clear drops all conversations, used on session teardown.
func (r *conversationRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

func sortConversations(list []Conversation) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].UpdatedAt > list[j].UpdatedAt })
}

// mergeConversation overlays update onto existing without clearing fields the
// update omits. UnreadCount is always taken from the update since zero is a
// meaningful value there (all read).
func mergeConversation(existing, update Conversation) Conversation {
	merged := update
	if merged.Partnership == 0 {
		merged.Partnership = existing.Partnership
	}
	if merged.PartnerName == "" {
		merged.PartnerName = existing.PartnerName
	}
	if merged.PartnerAvatar == "" {
		merged.PartnerAvatar = existing.PartnerAvatar
	}
	if merged.LastMessage == nil {
		merged.LastMessage = existing.LastMessage
	}
	if merged.CreatedAt == "" {
		merged.CreatedAt = existing.CreatedAt
	}
	if merged.UpdatedAt == "" {
		merged.UpdatedAt = existing.UpdatedAt
	}
	return merged
}
