package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/conversation"
	"github.com/loqui/messenger/internal/errs"
)

type createConversationRequest struct {
	Kind         string   `json:"kind" binding:"required"`
	Participants []string `json:"participants" binding:"required"`
	Name         string   `json:"name"`
	AvatarURL    string   `json:"avatar_url"`
}

func (s *Server) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.Validationf("invalid request body"))
		return
	}

	conv, created, err := s.convs.Create(c.Request.Context(), conversation.CreateInput{
		CreatorID:    userOf(c),
		Participants: req.Participants,
		Kind:         conversation.Kind(req.Kind),
		Name:         req.Name,
		AvatarURL:    req.AvatarURL,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		if s.events != nil {
			s.events.EmitConversationCreated(conv)
		}
	}
	c.JSON(status, conv)
}

func (s *Server) listConversations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	summaries, pageInfo, err := s.convs.ListForUser(c.Request.Context(), userOf(c), conversation.ListFilter{
		Page:     page,
		Limit:    limit,
		Kind:     conversation.Kind(c.Query("kind")),
		Search:   c.Query("search"),
		Archived: c.Query("archived") == "true",
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries, "page_info": pageInfo})
}

func (s *Server) getConversation(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}
	conv, err := s.convs.Get(c.Request.Context(), id, userOf(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type updateConversationRequest struct {
	Name               *string  `json:"name"`
	AvatarURL          *string  `json:"avatar_url"`
	AdminID            *string  `json:"admin_id"`
	AddParticipants    []string `json:"add_participants"`
	RemoveParticipants []string `json:"remove_participants"`
}

func (s *Server) updateConversation(c *gin.Context) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}
	var req updateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, errs.Validationf("invalid request body"))
		return
	}

	conv, err := s.convs.Update(c.Request.Context(), id, userOf(c), conversation.Patch{
		Name:               req.Name,
		AvatarURL:          req.AvatarURL,
		AdminID:            req.AdminID,
		AddParticipants:    req.AddParticipants,
		RemoveParticipants: req.RemoveParticipants,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	if s.events != nil {
		s.events.EmitConversationUpdated(conv, req.AddParticipants, req.RemoveParticipants)
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) archiveConversation(c *gin.Context) {
	s.stampConversation(c, s.convs.Archive)
}

func (s *Server) unarchiveConversation(c *gin.Context) {
	s.stampConversation(c, s.convs.Unarchive)
}

func (s *Server) deleteConversation(c *gin.Context) {
	s.stampConversation(c, s.convs.SoftDelete)
}

// stampConversation covers the three per-user stamp operations, which share
// a signature and a response shape.
func (s *Server) stampConversation(c *gin.Context, op func(ctx context.Context, id uuid.UUID, userID string) error) {
	id, ok := parsePathID(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), id, userOf(c)); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
