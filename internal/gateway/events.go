package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/conversation"
	"github.com/loqui/messenger/internal/message"
	"github.com/loqui/messenger/internal/metrics"
	"github.com/loqui/messenger/internal/protocol"
)

// The Emit methods are the single fanout pipeline: both the WebSocket
// handlers and the REST façade call them after a successful store mutation,
// so live delivery behaves identically regardless of which surface the
// mutation came in on.

// ReadEventPayload is the payload of message_read events.
type ReadEventPayload struct {
	ConversationID uuid.UUID   `json:"conversation_id"`
	UserID         string      `json:"user_id"`
	MessageIDs     []uuid.UUID `json:"message_ids"`
	ReadAt         time.Time   `json:"read_at"`
}

// PushPayload is what gets published to the push worker for one offline
// recipient.
type PushPayload struct {
	RecipientID    string    `json:"recipient_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sent_at"`
}

// EmitMessageCreated fans a new message out to the conversation's room and
// publishes push requests for participants who are offline everywhere.
func (g *Gateway) EmitMessageCreated(ctx context.Context, m *message.Message) {
	g.broadcastRoom(roomConv(m.ConversationID), protocol.TypeMessageCreated, protocol.EventMsg{
		ConversationID: m.ConversationID.String(),
		Payload:        m,
	}, "")
	g.pushOffline(ctx, m)
}

// EmitMessageUpdated fans out an edit.
func (g *Gateway) EmitMessageUpdated(m *message.Message) {
	g.broadcastRoom(roomConv(m.ConversationID), protocol.TypeMessageUpdated, protocol.EventMsg{
		ConversationID: m.ConversationID.String(),
		Payload:        m,
	}, "")
}

// EmitMessageDeleted fans out a global delete. Only the tombstone facts are
// sent, not the content.
func (g *Gateway) EmitMessageDeleted(m *message.Message) {
	g.broadcastRoom(roomConv(m.ConversationID), protocol.TypeMessageDeleted, protocol.EventMsg{
		ConversationID: m.ConversationID.String(),
		Payload: map[string]interface{}{
			"message_id": m.ID,
			"deleted_at": m.DeletedAt,
		},
	}, "")
}

// EmitMessagesRead fans out newly written read receipts.
func (g *Gateway) EmitMessagesRead(convID uuid.UUID, userID string, ids []uuid.UUID) {
	g.broadcastRoom(roomConv(convID), protocol.TypeMessageRead, protocol.EventMsg{
		ConversationID: convID.String(),
		Payload: ReadEventPayload{
			ConversationID: convID,
			UserID:         userID,
			MessageIDs:     ids,
			ReadAt:         time.Now().UTC(),
		},
	}, "")
}

// EmitReactionUpdated fans out the message's current reaction set.
func (g *Gateway) EmitReactionUpdated(m *message.Message) {
	g.broadcastRoom(roomConv(m.ConversationID), protocol.TypeReactionUpdated, protocol.EventMsg{
		ConversationID: m.ConversationID.String(),
		Payload: map[string]interface{}{
			"message_id": m.ID,
			"reactions":  m.Reactions,
		},
	}, "")
}

// EmitConversationCreated subscribes every online participant's connections
// to the new conversation's room, then announces it on their user rooms.
func (g *Gateway) EmitConversationCreated(conv *conversation.Conversation) {
	room := roomConv(conv.ID)
	for _, p := range conv.Participants {
		for _, connID := range g.sessions.Connections(p.UserID) {
			g.sessions.Join(connID, room)
		}
		g.broadcastRoom(roomUser(p.UserID), protocol.TypeConversationCreated, protocol.EventMsg{
			ConversationID: conv.ID.String(),
			Payload:        conv,
		}, "")
	}
}

// EmitConversationUpdated fans out a settings or membership change. Added
// participants' connections join the room first so they receive this and
// subsequent events; removed participants' connections leave it.
func (g *Gateway) EmitConversationUpdated(conv *conversation.Conversation, added, removed []string) {
	room := roomConv(conv.ID)
	for _, userID := range added {
		for _, connID := range g.sessions.Connections(userID) {
			g.sessions.Join(connID, room)
		}
	}
	for _, userID := range removed {
		for _, connID := range g.sessions.Connections(userID) {
			g.sessions.Leave(connID, room)
		}
	}
	g.broadcastRoom(room, protocol.TypeConversationUpdated, protocol.EventMsg{
		ConversationID: conv.ID.String(),
		Payload:        conv,
	}, "")
	// Removed users are no longer in the room; tell them directly.
	for _, userID := range removed {
		g.broadcastRoom(roomUser(userID), protocol.TypeConversationUpdated, protocol.EventMsg{
			ConversationID: conv.ID.String(),
			Payload:        conv,
		}, "")
	}
}

// broadcastTyping fans a typing transition out to the conversation's room,
// excluding the typist's own connection.
func (g *Gateway) broadcastTyping(conversationID, userID string, isTyping bool, skipConnID string) {
	g.broadcastRoom("conv:"+conversationID, protocol.TypeServerTyping, protocol.ServerTypingMsg{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	}, skipConnID)
}

// broadcastRoom encodes one frame, delivers it to the local members of a
// room, and relays it to other instances. Local delivery uses the bounded
// per-connection queues; a slow consumer loses its connection, never the
// room.
func (g *Gateway) broadcastRoom(room, msgType string, payload interface{}, skipConnID string) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("gateway: build %s frame: %v", msgType, err)
		return
	}
	for _, connID := range g.sessions.RoomMembers(room) {
		if connID == skipConnID {
			continue
		}
		_ = g.server.Send(connID, data)
		metrics.EventsFanout.WithLabelValues(msgType).Inc()
	}
	g.relay(room, msgType, data)
}

// pushOffline publishes a push request for each participant with no live
// connection anywhere. Push is best-effort; failures are logged and
// swallowed so they never affect the send.
func (g *Gateway) pushOffline(ctx context.Context, m *message.Message) {
	if g.nats == nil {
		return
	}
	members, err := g.convs.MemberIDs(ctx, m.ConversationID)
	if err != nil {
		log.Printf("gateway: push member lookup conv=%s: %v", m.ConversationID, err)
		return
	}
	candidates := make([]string, 0, len(members))
	for _, userID := range members {
		if userID != m.SenderID {
			candidates = append(candidates, userID)
		}
	}
	for _, userID := range g.offlineUsers(ctx, candidates) {
		payload, err := json.Marshal(PushPayload{
			RecipientID:    userID,
			ConversationID: m.ConversationID,
			MessageID:      m.ID,
			SenderID:       m.SenderID,
			Preview:        m.Preview(),
			SentAt:         m.CreatedAt,
		})
		if err != nil {
			continue
		}
		if err := g.nats.PublishPushNotify(userID, payload); err != nil {
			log.Printf("gateway: push publish user=%s: %v", userID, err)
			continue
		}
		metrics.PushNotifications.Inc()
	}
}

// offlineUsers filters candidates down to those with no live connection
// anywhere. It prefers the cross-instance presence store and falls back to
// local state when none is configured or Redis is unreachable.
func (g *Gateway) offlineUsers(ctx context.Context, candidates []string) []string {
	if g.presence != nil {
		online, err := g.presence.OnlineUsers(ctx, candidates)
		if err == nil {
			onlineSet := make(map[string]struct{}, len(online))
			for _, id := range online {
				onlineSet[id] = struct{}{}
			}
			var offline []string
			for _, id := range candidates {
				if _, ok := onlineSet[id]; !ok {
					offline = append(offline, id)
				}
			}
			return offline
		}
		log.Printf("gateway: presence lookup: %v (using local state)", err)
	}
	var offline []string
	for _, id := range candidates {
		if !g.sessions.IsOnline(id) {
			offline = append(offline, id)
		}
	}
	return offline
}
