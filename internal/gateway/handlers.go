package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/errs"
	"github.com/loqui/messenger/internal/message"
	"github.com/loqui/messenger/internal/metrics"
	"github.com/loqui/messenger/internal/protocol"
	"github.com/loqui/messenger/internal/ratelimit"
	"github.com/loqui/messenger/internal/ws"
)

const opTimeout = 10 * time.Second

// userOf resolves the authenticated user behind a connection.
func (g *Gateway) userOf(conn *ws.Connection) string {
	return g.sessions.UserID(conn.ID)
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errs.Validationf("invalid %s", field)
	}
	return id, nil
}

func parseOptionalID(field, raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := parseID(field, raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (g *Gateway) handleSendMessage(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.SendMessageMsg)
	userID := g.userOf(conn)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if !g.allow(ctx, userID, ratelimit.RuleMessage) {
		g.sendRateLimited(conn, int(ratelimit.RuleMessage.Window.Seconds()))
		return
	}

	convID, err := parseID("conversation_id", m.ConversationID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}
	replyTo, err := parseOptionalID("reply_to_id", m.ReplyToID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}
	forwarded, err := parseOptionalID("forwarded_from_id", m.ForwardedFromID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}

	started := time.Now()
	created, err := g.msgs.Send(ctx, message.SendInput{
		ConversationID:  convID,
		SenderID:        userID,
		Kind:            message.Kind(m.Kind),
		Content:         m.Content,
		Metadata:        json.RawMessage(m.Metadata),
		ReplyToID:       replyTo,
		ForwardedFromID: forwarded,
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		g.sendOpError(conn, err)
		return
	}

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	g.EmitMessageCreated(ctx, created)
	metrics.SendLatency.Observe(time.Since(started).Seconds())

	// Sending implies the sender stopped typing.
	if g.sessions.ClearTyping(convID.String(), userID) {
		g.broadcastTyping(convID.String(), userID, false, conn.ID)
	}
}

func (g *Gateway) handleEditMessage(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.EditMessageMsg)
	userID := g.userOf(conn)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	msgID, err := parseID("message_id", m.MessageID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}
	edited, err := g.msgs.Edit(ctx, msgID, userID, m.Content)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("edited").Inc()
	g.EmitMessageUpdated(edited)
}

func (g *Gateway) handleDeleteMessage(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.DeleteMessageMsg)
	userID := g.userOf(conn)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	msgID, err := parseID("message_id", m.MessageID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}

	if !m.ForEveryone {
		// Delete-for-me is private: no fanout beyond this user.
		if err := g.msgs.DeleteForSelf(ctx, msgID, userID); err != nil {
			g.sendOpError(conn, err)
		}
		return
	}

	deleted, err := g.msgs.Delete(ctx, msgID, userID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("deleted").Inc()
	g.EmitMessageDeleted(deleted)
}

func (g *Gateway) handleMarkRead(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.MarkReadMsg)
	userID := g.userOf(conn)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	convID, err := parseID("conversation_id", m.ConversationID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}

	var ids []uuid.UUID
	for _, raw := range m.MessageIDs {
		id, err := parseID("message_id", raw)
		if err != nil {
			g.sendOpError(conn, err)
			return
		}
		ids = append(ids, id)
	}

	newly, err := g.msgs.BulkMarkRead(ctx, convID, ids, userID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}
	if len(newly) > 0 {
		g.EmitMessagesRead(convID, userID, newly)
	}
}

func (g *Gateway) handleReact(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.ReactMsg)
	userID := g.userOf(conn)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	msgID, err := parseID("message_id", m.MessageID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}

	var updated *message.Message
	if m.Symbol == "" {
		updated, err = g.msgs.Unreact(ctx, msgID, userID)
	} else {
		updated, err = g.msgs.React(ctx, msgID, userID, m.Symbol)
	}
	if err != nil {
		g.sendOpError(conn, err)
		return
	}
	g.EmitReactionUpdated(updated)
}

func (g *Gateway) handleTyping(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.TypingMsg)
	userID := g.userOf(conn)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if !g.allow(ctx, userID, ratelimit.RuleTyping) {
		// Typing is best-effort; drop silently when throttled.
		return
	}

	convID, err := parseID("conversation_id", m.ConversationID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}

	// Room membership doubles as the authorization check: the connection
	// only ever joins rooms of conversations its user belongs to.
	if !contains(g.sessions.Rooms(conn.ID), roomConv(convID)) {
		g.sendOpError(conn, errs.NotFoundf("conversation %s", convID))
		return
	}

	key := convID.String()
	if m.IsTyping {
		if g.sessions.SetTyping(key, userID) {
			g.broadcastTyping(key, userID, true, conn.ID)
		}
	} else {
		if g.sessions.ClearTyping(key, userID) {
			g.broadcastTyping(key, userID, false, conn.ID)
		}
	}
}

func (g *Gateway) handleJoin(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.JoinMsg)
	userID := g.userOf(conn)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	convID, err := parseID("conversation_id", m.ConversationID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}
	ok, err := g.convs.IsActiveParticipant(ctx, convID, userID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}
	if !ok {
		g.sendOpError(conn, errs.NotFoundf("conversation %s", convID))
		return
	}
	g.sessions.Join(conn.ID, roomConv(convID))
}

func (g *Gateway) handleLeave(conn *ws.Connection, msg interface{}) {
	m := msg.(protocol.LeaveMsg)

	convID, err := parseID("conversation_id", m.ConversationID)
	if err != nil {
		g.sendOpError(conn, err)
		return
	}
	g.sessions.Leave(conn.ID, roomConv(convID))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
