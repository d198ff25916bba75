// Package gateway is the fanout layer: it authenticates WebSocket
// connections, tracks room membership, routes client commands to the
// conversation and message stores, and fans resulting events out to every
// participant's live connections. Events are also relayed over NATS so
// participants connected to other gateway instances receive them, and push
// notifications are published for offline recipients.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/conversation"
	"github.com/loqui/messenger/internal/errs"
	"github.com/loqui/messenger/internal/identity"
	"github.com/loqui/messenger/internal/message"
	"github.com/loqui/messenger/internal/messaging"
	"github.com/loqui/messenger/internal/metrics"
	"github.com/loqui/messenger/internal/protocol"
	"github.com/loqui/messenger/internal/ratelimit"
	"github.com/loqui/messenger/internal/session"
	"github.com/loqui/messenger/internal/ws"
)

// Room name builders. Conversation rooms receive conversation-scoped
// events; user rooms receive events addressed to one user on all their
// devices.
func roomConv(id uuid.UUID) string { return "conv:" + id.String() }
func roomUser(userID string) string { return "user:" + userID }

// Transport is the slice of the WebSocket server the gateway drives. It is
// satisfied by *ws.Server; tests substitute a recording fake.
type Transport interface {
	Send(connID string, data []byte) error
	RemoveConnection(c *ws.Connection)
	Connections() *ws.ConnectionManager
	SetOnDisconnect(fn func(connID string))
}

// Options carries the collaborators a Gateway needs. Presence, Limiter and
// NATS are optional; a nil value disables that concern (single-instance
// deployments, tests).
type Options struct {
	Server   Transport
	Sessions *session.Registry
	Presence *session.PresenceStore
	Verifier identity.Verifier
	Convs    *conversation.Registry
	Msgs     *message.Store
	Limiter  *ratelimit.Limiter
	NATS     *messaging.NATSClient
	Instance string
}

// Gateway wires the WebSocket server to the stores and the fanout plumbing.
type Gateway struct {
	server   Transport
	sessions *session.Registry
	presence *session.PresenceStore
	verifier identity.Verifier
	convs    *conversation.Registry
	msgs     *message.Store
	limiter  *ratelimit.Limiter
	nats     *messaging.NATSClient
	instance string
	done     chan struct{}
}

// New builds a Gateway and registers its handlers on a dispatcher bound to
// the server.
func New(opts Options) (*Gateway, *ws.MessageDispatcher) {
	g := &Gateway{
		server:   opts.Server,
		sessions: opts.Sessions,
		presence: opts.Presence,
		verifier: opts.Verifier,
		convs:    opts.Convs,
		msgs:     opts.Msgs,
		limiter:  opts.Limiter,
		nats:     opts.NATS,
		instance: opts.Instance,
		done:     make(chan struct{}),
	}

	d := ws.NewMessageDispatcher(nil)
	if srv, ok := opts.Server.(*ws.Server); ok {
		d.SetServer(srv)
	}
	d.Register(protocol.TypeAuth, g.handleAuth)
	d.Register(protocol.TypeSendMessage, g.handleSendMessage)
	d.Register(protocol.TypeEditMessage, g.handleEditMessage)
	d.Register(protocol.TypeDeleteMessage, g.handleDeleteMessage)
	d.Register(protocol.TypeMarkRead, g.handleMarkRead)
	d.Register(protocol.TypeReact, g.handleReact)
	d.Register(protocol.TypeTyping, g.handleTyping)
	d.Register(protocol.TypeJoin, g.handleJoin)
	d.Register(protocol.TypeLeave, g.handleLeave)

	if opts.Server != nil {
		opts.Server.SetOnDisconnect(g.onDisconnect)
	}
	return g, d
}

// Start launches the background loops: the typing sweep, the metrics
// snapshot, and (when NATS is configured) the cross-instance event relay.
func (g *Gateway) Start() error {
	if g.nats != nil {
		if err := g.nats.SubscribeGatewayEvents(g.applyRelayedEvent); err != nil {
			return err
		}
	}
	go g.janitor()
	return nil
}

// Stop terminates the background loops.
func (g *Gateway) Stop() {
	close(g.done)
}

// janitor expires typing indicators, refreshes cross-instance presence, and
// keeps the gauges current.
func (g *Gateway) janitor() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var tick int
	for {
		select {
		case <-g.done:
			return
		case now := <-ticker.C:
			for _, ex := range g.sessions.SweepTyping(now) {
				g.broadcastTyping(ex.ConversationID, ex.UserID, false, "")
			}

			stats := g.sessions.Snapshot()
			metrics.ConnectionsTotal.Set(float64(stats.Connections))
			metrics.OnlineUsers.Set(float64(stats.Users))

			// Presence TTL is a minute; refreshing every 20 ticks keeps
			// marks alive with margin.
			tick++
			if g.presence != nil && tick%20 == 0 {
				g.refreshPresence()
			}
		}
	}
}

func (g *Gateway) refreshPresence() {
	var users []string
	for _, c := range g.server.Connections().All() {
		if u := g.sessions.UserID(c.ID); u != "" {
			users = append(users, u)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := g.presence.Refresh(ctx, users); err != nil {
		log.Printf("gateway: presence refresh: %v", err)
	}
}

// handleAuth completes the connection handshake: the token is verified, the
// connection is bound to its user, and the connection auto-joins the user's
// room plus the room of every conversation they participate in.
func (g *Gateway) handleAuth(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.AuthMsg)

	if conn.Authenticated() {
		g.sendError(conn, "already_authenticated", "connection is already authenticated")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !g.allow(ctx, conn.ID, ratelimit.RuleAuth) {
		g.sendRateLimited(conn, int(ratelimit.RuleAuth.Window.Seconds()))
		return
	}

	profile, err := g.verifier.Verify(ctx, m.Token)
	if err != nil {
		g.sendError(conn, errs.Code(err), "invalid credentials")
		g.server.RemoveConnection(conn)
		return
	}

	conn.MarkAuthenticated()
	first := g.sessions.Bind(conn.ID, profile.UserID)
	g.sessions.Join(conn.ID, roomUser(profile.UserID))

	convIDs, err := g.convs.IDsForUser(ctx, profile.UserID)
	if err != nil {
		log.Printf("gateway: auto-join lookup user=%s: %v", profile.UserID, err)
	}
	for _, id := range convIDs {
		g.sessions.Join(conn.ID, roomConv(id))
	}

	ready, err := protocol.NewServerMessage(protocol.TypeReady, protocol.ReadyMsg{
		UserID: profile.UserID,
	})
	if err == nil {
		_ = g.server.Send(conn.ID, ready)
	}

	if first {
		if g.presence != nil {
			if err := g.presence.Online(ctx, profile.UserID); err != nil {
				log.Printf("gateway: presence online user=%s: %v", profile.UserID, err)
			}
		}
		g.broadcastPresence(profile.UserID, true, convIDs)
	}

	log.Printf("gateway: authenticated conn=%s user=%s (first=%v)", conn.ID, profile.UserID, first)
}

// onDisconnect unwinds a connection's session state. When the user's last
// connection goes away, their presence flips to offline and participants of
// their conversations are told.
func (g *Gateway) onDisconnect(connID string) {
	userID, last, typingStopped := g.sessions.Unbind(connID)
	if userID == "" || !last {
		return
	}

	// The user can no longer be typing anywhere; tell the rooms that still
	// showed an indicator.
	for _, conversationID := range typingStopped {
		g.broadcastTyping(conversationID, userID, false, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if g.presence != nil {
		if err := g.presence.Offline(ctx, userID); err != nil {
			log.Printf("gateway: presence offline user=%s: %v", userID, err)
		}
	}

	convIDs, err := g.convs.IDsForUser(ctx, userID)
	if err != nil {
		log.Printf("gateway: offline fanout lookup user=%s: %v", userID, err)
		return
	}
	g.broadcastPresence(userID, false, convIDs)
}

// broadcastPresence announces an online/offline transition to every
// conversation the user participates in.
func (g *Gateway) broadcastPresence(userID string, online bool, convIDs []uuid.UUID) {
	data, err := protocol.NewServerMessage(protocol.TypePresence, protocol.PresenceMsg{
		UserID: userID,
		Online: online,
	})
	if err != nil {
		return
	}
	seen := make(map[string]struct{})
	for _, id := range convIDs {
		room := roomConv(id)
		for _, connID := range g.sessions.RoomMembers(room) {
			// One frame per connection even when rooms overlap.
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			if g.sessions.UserID(connID) == userID {
				continue
			}
			_ = g.server.Send(connID, data)
			metrics.EventsFanout.WithLabelValues(protocol.TypePresence).Inc()
		}
		g.relay(room, protocol.TypePresence, data)
	}
}

// allow consults the rate limiter; a nil limiter allows everything.
func (g *Gateway) allow(ctx context.Context, identifier string, rule ratelimit.Rule) bool {
	if g.limiter == nil {
		return true
	}
	ok, _ := g.limiter.Allow(ctx, identifier, rule)
	return ok
}

func (g *Gateway) sendError(conn *ws.Connection, code, msg string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: msg,
	})
	if err != nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("gateway: send error frame conn=%s: %v", conn.ID, err)
	}
}

func (g *Gateway) sendRateLimited(conn *ws.Connection, retryAfter int) {
	data, err := protocol.NewServerMessage(protocol.TypeRateLimited, protocol.RateLimitedMsg{
		RetryAfter: retryAfter,
	})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(data)
}

// sendOpError maps a store error onto a client error frame.
func (g *Gateway) sendOpError(conn *ws.Connection, err error) {
	g.sendError(conn, errs.Code(err), err.Error())
}

// relayedEvent is the envelope gateways exchange over NATS: which room the
// frame belongs to and the origin instance, so the origin can skip its own
// echo.
type relayedEvent struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// relay publishes an already-encoded frame for other gateway instances.
func (g *Gateway) relay(room, event string, data []byte) {
	if g.nats == nil {
		return
	}
	payload, err := json.Marshal(relayedEvent{
		Origin: g.instance,
		Room:   room,
		Event:  event,
		Data:   data,
	})
	if err != nil {
		return
	}
	if err := g.nats.PublishGatewayEvent(payload); err != nil {
		log.Printf("gateway: relay publish room=%s: %v", room, err)
	}
}

// applyRelayedEvent delivers a frame relayed by another instance to the
// local members of its room.
func (g *Gateway) applyRelayedEvent(data []byte) {
	var ev relayedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("gateway: relay decode: %v", err)
		return
	}
	if ev.Origin == g.instance {
		return
	}
	for _, connID := range g.sessions.RoomMembers(ev.Room) {
		_ = g.server.Send(connID, ev.Data)
		metrics.EventsFanout.WithLabelValues(ev.Event).Inc()
	}
}
