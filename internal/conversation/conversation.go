// Package conversation implements the durable conversation registry:
// membership, direct/group semantics, per-participant unread counters, and
// per-participant archive/delete visibility.
package conversation

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/errs"
)

// Kind distinguishes two-party direct conversations from named groups.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Participant bounds enforced on create and on group membership changes.
const (
	MinParticipants = 2
	MaxParticipants = 50
)

// Conversation is a durable conversation record. Participants carry the
// per-viewer state (unread counter, archive and delete stamps).
type Conversation struct {
	ID              uuid.UUID     `json:"id"`
	Kind            Kind          `json:"kind"`
	Name            string        `json:"name,omitempty"`
	AvatarURL       string        `json:"avatar_url,omitempty"`
	AdminID         string        `json:"admin_id,omitempty"`
	LastMessageText string        `json:"last_message_text"`
	LastMessageAt   *time.Time    `json:"last_message_at,omitempty"`
	Active          bool          `json:"active"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Participants    []Participant `json:"participants,omitempty"`
}

// Participant is one user's view of a conversation.
type Participant struct {
	UserID      string     `json:"user_id"`
	UnreadCount int        `json:"unread_count"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	JoinedAt    time.Time  `json:"joined_at"`
}

// ParticipantIDs returns the user IDs of all participants, in stored order.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.UserID
	}
	return ids
}

// HasParticipant reports whether userID is a participant (regardless of
// per-user delete state).
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// CreateInput is the payload for Registry.Create. Participants is normalized
// to include the creator and deduplicated before validation.
type CreateInput struct {
	CreatorID    string
	Participants []string
	Kind         Kind
	Name         string
	AvatarURL    string
}

// normalize dedupes participants, ensures the creator is present, and
// validates the bounds and kind-specific requirements.
func (in *CreateInput) normalize() error {
	seen := make(map[string]struct{}, len(in.Participants)+1)
	out := make([]string, 0, len(in.Participants)+1)
	for _, id := range append([]string{in.CreatorID}, in.Participants...) {
		id = strings.TrimSpace(id)
		if id == "" {
			return errs.Validationf("participant id is empty")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	in.Participants = out

	if len(out) < MinParticipants || len(out) > MaxParticipants {
		return errs.Validationf("participant count %d out of bounds [%d, %d]",
			len(out), MinParticipants, MaxParticipants)
	}

	switch in.Kind {
	case KindDirect:
		if len(out) != 2 {
			return errs.Validationf("direct conversation requires exactly 2 participants, got %d", len(out))
		}
	case KindGroup:
		if strings.TrimSpace(in.Name) == "" {
			return errs.Validationf("group conversation requires a name")
		}
	default:
		return errs.Validationf("unknown conversation kind %q", in.Kind)
	}
	return nil
}

// DirectKey builds the order-independent pair key used to keep direct
// conversations unique per unordered participant pair.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// Patch describes a group-settings update. Nil pointer fields are left
// untouched.
type Patch struct {
	Name               *string
	AvatarURL          *string
	AdminID            *string
	AddParticipants    []string
	RemoveParticipants []string
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Name == nil && p.AvatarURL == nil && p.AdminID == nil &&
		len(p.AddParticipants) == 0 && len(p.RemoveParticipants) == 0
}

// ListFilter controls Registry.ListForUser.
type ListFilter struct {
	Page     int
	Limit    int
	Kind     Kind   // optional
	Search   string // optional substring match
	Archived bool   // list archived instead of active entries
}

// MaxPageLimit caps the page size of listing endpoints.
const MaxPageLimit = 100

// clamp applies defaults and bounds.
func (f *ListFilter) clamp() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

// PageInfo is the pagination metadata returned by listing operations.
type PageInfo struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}

// Preview is the most recent visible message of a conversation, used to
// enrich listings.
type Preview struct {
	MessageID uuid.UUID `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is one entry of a user's conversation list.
type Summary struct {
	Conversation
	Preview *Preview `json:"preview,omitempty"`
}

// sortedCopy returns a sorted copy of ids; used for deterministic queries.
func sortedCopy(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
