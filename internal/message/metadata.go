package message

import (
	"bytes"
	"encoding/json"

	"github.com/loqui/messenger/internal/errs"
)

// Metadata payload shapes, one per message kind. Attachment URLs are already
// resolved by the media collaborator; this engine never uploads or
// transforms files.

// ImageMeta is the payload for image messages.
type ImageMeta struct {
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

// FileMeta is the payload for generic file messages.
type FileMeta struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// VideoMeta is the payload for video messages.
type VideoMeta struct {
	URL        string `json:"url"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	ThumbURL   string `json:"thumb_url,omitempty"`
}

// AudioMeta is the payload for audio messages.
type AudioMeta struct {
	URL        string `json:"url"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// ServiceOfferMeta is the payload for service-offer messages.
type ServiceOfferMeta struct {
	ServiceID  string `json:"service_id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
}

// BookingRequestMeta is the payload for booking-request messages.
type BookingRequestMeta struct {
	BookingID string `json:"booking_id"`
	ServiceID string `json:"service_id"`
	StartsAt  string `json:"starts_at"` // RFC 3339
	Note      string `json:"note,omitempty"`
}

// LocationMeta is the payload for location messages.
type LocationMeta struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Label     string  `json:"label,omitempty"`
}

// SystemMeta is the payload for system messages (membership changes and the
// like, rendered by the client from the event field).
type SystemMeta struct {
	Event string `json:"event"`
}

// ValidateMetadata checks that raw matches the declared kind's payload
// shape. Unknown fields and payloads for the wrong kind are rejected; text
// messages must not carry metadata at all.
func ValidateMetadata(kind Kind, raw json.RawMessage) error {
	empty := len(raw) == 0 || bytes.Equal(raw, []byte("null"))

	switch kind {
	case KindText:
		if !empty {
			return errs.Validationf("text messages carry no metadata")
		}
		return nil
	case KindImage:
		var m ImageMeta
		if err := decodeStrict(kind, raw, empty, &m); err != nil {
			return err
		}
		return requireFields(kind, m.URL != "", m.MimeType != "", m.SizeBytes > 0)
	case KindFile:
		var m FileMeta
		if err := decodeStrict(kind, raw, empty, &m); err != nil {
			return err
		}
		return requireFields(kind, m.URL != "", m.Name != "", m.SizeBytes > 0)
	case KindVideo:
		var m VideoMeta
		if err := decodeStrict(kind, raw, empty, &m); err != nil {
			return err
		}
		return requireFields(kind, m.URL != "", m.SizeBytes > 0)
	case KindAudio:
		var m AudioMeta
		if err := decodeStrict(kind, raw, empty, &m); err != nil {
			return err
		}
		return requireFields(kind, m.URL != "", m.SizeBytes > 0)
	case KindServiceOffer:
		var m ServiceOfferMeta
		if err := decodeStrict(kind, raw, empty, &m); err != nil {
			return err
		}
		return requireFields(kind, m.ServiceID != "", m.Title != "", m.PriceCents >= 0, m.Currency != "")
	case KindBookingRequest:
		var m BookingRequestMeta
		if err := decodeStrict(kind, raw, empty, &m); err != nil {
			return err
		}
		return requireFields(kind, m.BookingID != "", m.ServiceID != "", m.StartsAt != "")
	case KindLocation:
		var m LocationMeta
		if err := decodeStrict(kind, raw, empty, &m); err != nil {
			return err
		}
		if m.Latitude < -90 || m.Latitude > 90 || m.Longitude < -180 || m.Longitude > 180 {
			return errs.Validationf("location coordinates out of range")
		}
		return nil
	case KindSystem:
		var m SystemMeta
		if err := decodeStrict(kind, raw, empty, &m); err != nil {
			return err
		}
		return requireFields(kind, m.Event != "")
	default:
		return errs.Validationf("unknown message kind %q", kind)
	}
}

// decodeStrict decodes raw into v, rejecting unknown fields so that a
// payload shaped for a different kind cannot masquerade as this one.
func decodeStrict(kind Kind, raw json.RawMessage, empty bool, v interface{}) error {
	if empty {
		return errs.Validationf("%s messages require metadata", kind)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Validationf("malformed %s metadata: %v", kind, err)
	}
	return nil
}

func requireFields(kind Kind, checks ...bool) error {
	for _, ok := range checks {
		if !ok {
			return errs.Validationf("incomplete %s metadata", kind)
		}
	}
	return nil
}
