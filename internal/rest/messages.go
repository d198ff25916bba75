package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/errs"
	"github.com/loqui/messenger/internal/message"
	"github.com/loqui/messenger/internal/metrics"
	"github.com/loqui/messenger/internal/ratelimit"
)

type sendMessageRequest struct {
	Kind            string          `json:"kind" binding:"required"`
	Content         string          `json:"content"`
	Metadata        json.RawMessage `json:"metadata"`
	ReplyToID       string          `json:"reply_to_id"`
	ForwardedFromID string          `json:"forwarded_from_id"`
}

func (s *Server) sendMessage(c *gin.Context) {
	convID, ok := parsePathID(c)
	if !ok {
		return
	}
	if !s.allow(c, ratelimit.RuleMessage) {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.Validationf("invalid request body"))
		return
	}
	replyTo, err := optionalUUID(req.ReplyToID)
	if err != nil {
		respondErr(c, errs.Validationf("invalid reply_to_id"))
		return
	}
	forwardedFrom, err := optionalUUID(req.ForwardedFromID)
	if err != nil {
		respondErr(c, errs.Validationf("invalid forwarded_from_id"))
		return
	}

	m, err := s.msgs.Send(c.Request.Context(), message.SendInput{
		ConversationID:  convID,
		SenderID:        userOf(c),
		Kind:            message.Kind(req.Kind),
		Content:         req.Content,
		Metadata:        req.Metadata,
		ReplyToID:       replyTo,
		ForwardedFromID: forwardedFrom,
	})
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		respondErr(c, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	if s.events != nil {
		s.events.EmitMessageCreated(c.Request.Context(), m)
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) listMessages(c *gin.Context) {
	convID, ok := parsePathID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	after, err := optionalTime(c.Query("after"))
	if err != nil {
		respondErr(c, errs.Validationf("invalid after timestamp"))
		return
	}
	before, err := optionalTime(c.Query("before"))
	if err != nil {
		respondErr(c, errs.Validationf("invalid before timestamp"))
		return
	}

	msgs, pageInfo, err := s.msgs.List(c.Request.Context(), convID, userOf(c), message.ListFilter{
		Page:   page,
		Limit:  limit,
		Kind:   message.Kind(c.Query("kind")),
		Search: c.Query("search"),
		After:  after,
		Before: before,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "page_info": pageInfo})
}

func (s *Server) getMessage(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}
	m, err := s.msgs.Get(c.Request.Context(), id, userOf(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

type editMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) editMessage(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.Validationf("invalid request body"))
		return
	}
	m, err := s.msgs.Edit(c.Request.Context(), id, userOf(c), req.Content)
	if err != nil {
		respondErr(c, err)
		return
	}
	if s.events != nil {
		s.events.EmitMessageUpdated(m)
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) deleteMessage(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}
	m, err := s.msgs.Delete(c.Request.Context(), id, userOf(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	if s.events != nil {
		s.events.EmitMessageDeleted(m)
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) deleteMessageForSelf(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}
	if err := s.msgs.DeleteForSelf(c.Request.Context(), id, userOf(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) markRead(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}
	receipt, newly, err := s.msgs.MarkRead(c.Request.Context(), id, userOf(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	if newly && s.events != nil {
		s.events.EmitMessagesRead(receipt.ConversationID, receipt.UserID, []uuid.UUID{receipt.MessageID})
	}
	c.JSON(http.StatusOK, receipt)
}

type bulkMarkReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

func (s *Server) bulkMarkRead(c *gin.Context) {
	convID, ok := parsePathID(c)
	if !ok {
		return
	}
	// The body is optional; no body means "everything unread".
	var req bulkMarkReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, errs.Validationf("invalid request body"))
			return
		}
	}
	var ids []uuid.UUID
	for _, raw := range req.MessageIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondErr(c, errs.Validationf("invalid message id %q", raw))
			return
		}
		ids = append(ids, id)
	}

	newly, err := s.msgs.BulkMarkRead(c.Request.Context(), convID, ids, userOf(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	if len(newly) > 0 && s.events != nil {
		s.events.EmitMessagesRead(convID, userOf(c), newly)
	}
	c.JSON(http.StatusOK, gin.H{"read": newly})
}

type reactionRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

func (s *Server) setReaction(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.Validationf("invalid request body"))
		return
	}
	m, err := s.msgs.React(c.Request.Context(), id, userOf(c), req.Symbol)
	if err != nil {
		respondErr(c, err)
		return
	}
	if s.events != nil {
		s.events.EmitReactionUpdated(m)
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) clearReaction(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}
	m, err := s.msgs.Unreact(c.Request.Context(), id, userOf(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	if s.events != nil {
		s.events.EmitReactionUpdated(m)
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) searchMessages(c *gin.Context) {
	text := c.Query("q")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	msgs, err := s.msgs.Search(c.Request.Context(), userOf(c), text, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func optionalUUID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
