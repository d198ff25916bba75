// Package push consumes push-notification requests published by the fanout
// gateway and hands them to a delivery provider. Delivery is best effort:
// a failed notification is logged and dropped, never retried into a
// thundering herd.
package push

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/loqui/messenger/internal/messaging"
)

// Notification is one push request for one offline recipient. The shape
// matches what the gateway publishes on push.notify.<recipient>.
type Notification struct {
	RecipientID    string    `json:"recipient_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sent_at"`
}

// Provider delivers one notification to the recipient's devices.
type Provider interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogProvider writes notifications to the log. It stands in until a real
// APNs/FCM provider is configured.
type LogProvider struct{}

func (LogProvider) Deliver(_ context.Context, n Notification) error {
	log.Printf("[push] deliver recipient=%s from=%s conv=%s preview=%q",
		n.RecipientID, n.SenderID, n.ConversationID, n.Preview)
	return nil
}

// Worker subscribes to push requests and forwards them to the provider.
type Worker struct {
	nats     *messaging.NATSClient
	provider Provider
	timeout  time.Duration
}

func NewWorker(nats *messaging.NATSClient, provider Provider) *Worker {
	return &Worker{nats: nats, provider: provider, timeout: 10 * time.Second}
}

// Start subscribes to all recipients' push subjects.
func (w *Worker) Start() error {
	return w.nats.SubscribePushNotify(w.handle)
}

func (w *Worker) handle(userID string, data []byte) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		log.Printf("[push] bad payload user=%s: %v", userID, err)
		return
	}
	if n.RecipientID == "" {
		n.RecipientID = userID
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.provider.Deliver(ctx, n); err != nil {
		log.Printf("[push] deliver failed recipient=%s msg=%s: %v",
			n.RecipientID, n.MessageID, err)
	}
}
