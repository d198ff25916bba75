// Package rest is the HTTP façade over the conversation registry and the
// message store. Every mutation that succeeds here triggers the matching
// gateway broadcast so REST-originated changes reach live WebSocket
// subscribers the same way WS-originated ones do.
package rest

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/conversation"
	"github.com/loqui/messenger/internal/errs"
	"github.com/loqui/messenger/internal/identity"
	"github.com/loqui/messenger/internal/message"
	"github.com/loqui/messenger/internal/metrics"
	"github.com/loqui/messenger/internal/ratelimit"
)

// Broadcaster is the slice of the gateway the façade needs. A nil
// Broadcaster disables live fanout, which is what tests want.
type Broadcaster interface {
	EmitMessageCreated(ctx context.Context, m *message.Message)
	EmitMessageUpdated(m *message.Message)
	EmitMessageDeleted(m *message.Message)
	EmitMessagesRead(convID uuid.UUID, userID string, ids []uuid.UUID)
	EmitReactionUpdated(m *message.Message)
	EmitConversationCreated(conv *conversation.Conversation)
	EmitConversationUpdated(conv *conversation.Conversation, added, removed []string)
}

// Options carries the façade's collaborators.
type Options struct {
	Convs    *conversation.Registry
	Msgs     *message.Store
	Verifier identity.Verifier
	Events   Broadcaster         // optional
	Limiter  *ratelimit.Limiter  // optional
}

// Server wires the gin router to the stores.
type Server struct {
	convs    *conversation.Registry
	msgs     *message.Store
	verifier identity.Verifier
	events   Broadcaster
	limiter  *ratelimit.Limiter
	engine   *gin.Engine
}

func NewServer(opts Options) *Server {
	s := &Server{
		convs:    opts.Convs,
		msgs:     opts.Msgs,
		verifier: opts.Verifier,
		events:   opts.Events,
		limiter:  opts.Limiter,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := engine.Group("/api/v1")
	api.Use(s.requireAuth())
	{
		api.POST("/conversations", s.createConversation)
		api.GET("/conversations", s.listConversations)
		api.GET("/conversations/:id", s.getConversation)
		api.PATCH("/conversations/:id", s.updateConversation)
		api.POST("/conversations/:id/archive", s.archiveConversation)
		api.POST("/conversations/:id/unarchive", s.unarchiveConversation)
		api.DELETE("/conversations/:id", s.deleteConversation)

		api.POST("/conversations/:id/messages", s.sendMessage)
		api.GET("/conversations/:id/messages", s.listMessages)
		api.POST("/conversations/:id/read", s.bulkMarkRead)

		api.GET("/messages/:id", s.getMessage)
		api.PATCH("/messages/:id", s.editMessage)
		api.DELETE("/messages/:id", s.deleteMessage)
		api.DELETE("/messages/:id/self", s.deleteMessageForSelf)
		api.POST("/messages/:id/read", s.markRead)
		api.PUT("/messages/:id/reaction", s.setReaction)
		api.DELETE("/messages/:id/reaction", s.clearReaction)

		api.GET("/search/messages", s.searchMessages)
	}

	s.engine = engine
	return s
}

// Handler exposes the router for http.Server and for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Printf("rest: %s %s status=%d dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// requireAuth verifies the bearer token and stashes the caller's profile in
// the request context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": "unauthenticated", "error": "authorization header required",
			})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": "unauthenticated", "error": "invalid authorization header",
			})
			return
		}
		profile, err := s.verifier.Verify(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(errs.HTTPStatus(err), gin.H{
				"code": errs.Code(err), "error": "invalid credentials",
			})
			return
		}
		c.Set("user_id", profile.UserID)
		c.Next()
	}
}

func userOf(c *gin.Context) string {
	return c.GetString("user_id")
}

// respondErr maps a store error onto a status and JSON body.
func respondErr(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{
		"code":  errs.Code(err),
		"error": err.Error(),
	})
}

// parsePathID parses the :id parameter as a UUID.
func parsePathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code": "validation", "error": "invalid id",
		})
		return uuid.Nil, false
	}
	return id, true
}

// allow applies a rate limit rule keyed by user. Fail-open when no limiter
// is configured.
func (s *Server) allow(c *gin.Context, rule ratelimit.Rule) bool {
	if s.limiter == nil {
		return true
	}
	ok, _ := s.limiter.Allow(c.Request.Context(), userOf(c), rule)
	if !ok {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":        "rate_limited",
			"error":       "rate limit exceeded",
			"retry_after": int(rule.Window.Seconds()),
		})
	}
	return ok
}
