// Package message implements the durable message store: message lifecycle
// (send, edit, reactions, tombstone delete), per-recipient read state, and
// the typed metadata carried by non-text messages. Messages are never
// physically destroyed here; retention and purge are external concerns.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind is the message type discriminator. The metadata payload shape is
// keyed by it; see metadata.go.
type Kind string

const (
	KindText           Kind = "text"
	KindImage          Kind = "image"
	KindFile           Kind = "file"
	KindVideo          Kind = "video"
	KindAudio          Kind = "audio"
	KindServiceOffer   Kind = "service_offer"
	KindBookingRequest Kind = "booking_request"
	KindLocation       Kind = "location"
	KindSystem         Kind = "system"
)

// EditWindow is how long after creation the sender may still edit a message.
const EditWindow = 24 * time.Hour

// Message is one durable message. ReadBy and Reactions are derived from the
// read_receipts and message_reactions tables when the message is loaded.
type Message struct {
	ID              uuid.UUID            `json:"id"`
	ConversationID  uuid.UUID            `json:"conversation_id"`
	SenderID        string               `json:"sender_id"`
	Kind            Kind                 `json:"kind"`
	Content         string               `json:"content"`
	Metadata        json.RawMessage      `json:"metadata,omitempty"`
	ReplyToID       *uuid.UUID           `json:"reply_to_id,omitempty"`
	ForwardedFromID *uuid.UUID           `json:"forwarded_from_id,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	EditedAt        *time.Time           `json:"edited_at,omitempty"`
	DeletedAt       *time.Time           `json:"deleted_at,omitempty"`
	ReadBy          map[string]time.Time `json:"read_by,omitempty"`
	Reactions       map[string]string    `json:"reactions,omitempty"` // user id -> symbol
}

// Preview returns the short text used for the conversation's denormalized
// last-message field and push-notification previews.
func (m *Message) Preview() string {
	switch m.Kind {
	case KindText, KindSystem:
		return truncate(m.Content, 120)
	case KindImage:
		return "[image]"
	case KindFile:
		return "[file]"
	case KindVideo:
		return "[video]"
	case KindAudio:
		return "[audio]"
	case KindServiceOffer:
		return "[service offer]"
	case KindBookingRequest:
		return "[booking request]"
	case KindLocation:
		return "[location]"
	default:
		return truncate(m.Content, 120)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// ReadReceipt is one (message, reader) read event, stored independently of
// the message so bulk lookups stay cheap at scale.
type ReadReceipt struct {
	ID             uuid.UUID `json:"id"`
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// SendInput is the payload for Store.Send.
type SendInput struct {
	ConversationID  uuid.UUID
	SenderID        string
	Kind            Kind
	Content         string
	Metadata        json.RawMessage
	ReplyToID       *uuid.UUID
	ForwardedFromID *uuid.UUID
}

// ListFilter controls Store.List.
type ListFilter struct {
	Page   int
	Limit  int
	Kind   Kind // optional
	Search string
	After  *time.Time
	Before *time.Time
}

// MaxPageLimit caps the page size of message listings.
const MaxPageLimit = 100

func (f *ListFilter) clamp() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

// PageInfo is the pagination metadata for message listings.
type PageInfo struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	HasNext bool `json:"has_next"`
	HasPrev bool `json:"has_prev"`
}
