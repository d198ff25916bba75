// Package session tracks the live state of one gateway process: which
// connections belong to which user, room membership for fanout, and
// ephemeral typing indicators. Everything here is in-memory and scoped to
// this process; cross-instance presence lives in the Redis-backed
// PresenceStore.
package session

import (
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator stays alive without a
// refresh from the client.
const DefaultTypingTTL = 10 * time.Second

// Registry is the in-memory session registry. Connections are identified by
// the opaque IDs the WS layer assigns; rooms are plain strings
// ("conv:<id>", "user:<id>").
type Registry struct {
	mu        sync.RWMutex
	users     map[string]map[string]struct{} // user id -> conn ids
	conns     map[string]string              // conn id -> user id
	rooms     map[string]map[string]struct{} // room -> conn ids
	connRooms map[string]map[string]struct{} // conn id -> rooms
	typing    map[string]map[string]time.Time
	typingTTL time.Duration
}

// NewRegistry creates an empty registry. ttl <= 0 means DefaultTypingTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Registry{
		users:     make(map[string]map[string]struct{}),
		conns:     make(map[string]string),
		rooms:     make(map[string]map[string]struct{}),
		connRooms: make(map[string]map[string]struct{}),
		typing:    make(map[string]map[string]time.Time),
		typingTTL: ttl,
	}
}

// Bind associates a connection with an authenticated user. It reports
// whether this is the user's first live connection on this process (the
// came-online transition).
func (r *Registry) Bind(connID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = userID
	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	first := len(set) == 0
	set[connID] = struct{}{}
	return first
}

// Unbind drops a connection and its room memberships. It returns the user
// the connection belonged to (empty if it never authenticated) and whether
// this was the user's last connection (the went-offline transition). On the
// last connection the user's typing indicators are dropped as well, and the
// IDs of the conversations they were typing in are returned so the caller
// can broadcast the implied stops.
func (r *Registry) Unbind(connID string) (userID string, last bool, typingStopped []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.connRooms[connID] {
		delete(r.rooms[room], connID)
		if len(r.rooms[room]) == 0 {
			delete(r.rooms, room)
		}
	}
	delete(r.connRooms, connID)

	userID, ok := r.conns[connID]
	if !ok {
		return "", false, nil
	}
	delete(r.conns, connID)
	if set := r.users[userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.users, userID)
			last = true
		}
	}
	if last {
		for conversationID, m := range r.typing {
			if _, typing := m[userID]; !typing {
				continue
			}
			delete(m, userID)
			if len(m) == 0 {
				delete(r.typing, conversationID)
			}
			typingStopped = append(typingStopped, conversationID)
		}
	}
	return userID, last, typingStopped
}

// UserID returns the user bound to a connection, or "" before auth.
func (r *Registry) UserID(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[connID]
}

// IsOnline reports whether the user has at least one live connection on
// this process.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// Connections returns the IDs of the user's live connections.
func (r *Registry) Connections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users[userID]))
	for id := range r.users[userID] {
		out = append(out, id)
	}
	return out
}

// Join adds a connection to a room.
func (r *Registry) Join(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]struct{})
	}
	r.rooms[room][connID] = struct{}{}
	if r.connRooms[connID] == nil {
		r.connRooms[connID] = make(map[string]struct{})
	}
	r.connRooms[connID][room] = struct{}{}
}

// Leave removes a connection from a room.
func (r *Registry) Leave(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[room], connID)
	if len(r.rooms[room]) == 0 {
		delete(r.rooms, room)
	}
	delete(r.connRooms[connID], room)
}

// RoomMembers returns the connection IDs currently joined to a room.
func (r *Registry) RoomMembers(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[room]))
	for id := range r.rooms[room] {
		out = append(out, id)
	}
	return out
}

// Rooms returns the rooms a connection has joined.
func (r *Registry) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.connRooms[connID]))
	for room := range r.connRooms[connID] {
		out = append(out, room)
	}
	return out
}

// SetTyping records that the user is typing in a conversation and reports
// whether this starts a new indicator (as opposed to refreshing one).
func (r *Registry) SetTyping(conversationID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.typing[conversationID]
	if !ok {
		m = make(map[string]time.Time)
		r.typing[conversationID] = m
	}
	_, refreshing := m[userID]
	m[userID] = time.Now().Add(r.typingTTL)
	return !refreshing
}

// ClearTyping drops the user's typing indicator and reports whether one was
// actually live (a repeated stop is a no-op).
func (r *Registry) ClearTyping(conversationID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.typing[conversationID]
	if !ok {
		return false
	}
	if _, live := m[userID]; !live {
		return false
	}
	delete(m, userID)
	if len(m) == 0 {
		delete(r.typing, conversationID)
	}
	return true
}

// TypingUsers returns who is typing in a conversation right now. Expired
// indicators are excluded but not removed; SweepTyping reclaims them.
func (r *Registry) TypingUsers(conversationID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var out []string
	for userID, deadline := range r.typing[conversationID] {
		if deadline.After(now) {
			out = append(out, userID)
		}
	}
	return out
}

// TypingExpiry is one expired indicator returned by SweepTyping, so the
// gateway can broadcast the implicit typing_stop.
type TypingExpiry struct {
	ConversationID string
	UserID         string
}

// SweepTyping removes every indicator whose deadline has passed and returns
// them.
func (r *Registry) SweepTyping(now time.Time) []TypingExpiry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []TypingExpiry
	for convID, m := range r.typing {
		for userID, deadline := range m {
			if !deadline.After(now) {
				delete(m, userID)
				expired = append(expired, TypingExpiry{ConversationID: convID, UserID: userID})
			}
		}
		if len(m) == 0 {
			delete(r.typing, convID)
		}
	}
	return expired
}

// Stats is a point-in-time snapshot for metrics and health reporting.
type Stats struct {
	Connections int
	Users       int
	Rooms       int
}

// Snapshot returns current registry counts.
func (r *Registry) Snapshot() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Connections: len(r.conns),
		Users:       len(r.users),
		Rooms:       len(r.rooms),
	}
}
