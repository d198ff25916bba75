package push

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

type captureProvider struct {
	delivered []Notification
}

func (p *captureProvider) Deliver(_ context.Context, n Notification) error {
	p.delivered = append(p.delivered, n)
	return nil
}

func TestHandleDelivers(t *testing.T) {
	provider := &captureProvider{}
	w := NewWorker(nil, provider)

	n := Notification{
		RecipientID:    "bob",
		ConversationID: uuid.New(),
		MessageID:      uuid.New(),
		SenderID:       "alice",
		Preview:        "hey",
		SentAt:         time.Now().UTC(),
	}
	raw, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}

	w.handle("bob", raw)

	if len(provider.delivered) != 1 {
		t.Fatalf("delivered = %d, want 1", len(provider.delivered))
	}
	if got := provider.delivered[0]; got.RecipientID != "bob" || got.Preview != "hey" {
		t.Errorf("delivered = %+v", got)
	}
}

func TestHandleFillsRecipientFromSubject(t *testing.T) {
	provider := &captureProvider{}
	w := NewWorker(nil, provider)

	w.handle("carol", []byte(`{"sender_id":"alice","preview":"hi"}`))

	if len(provider.delivered) != 1 || provider.delivered[0].RecipientID != "carol" {
		t.Errorf("delivered = %+v", provider.delivered)
	}
}

func TestHandleIgnoresBadPayload(t *testing.T) {
	provider := &captureProvider{}
	w := NewWorker(nil, provider)

	w.handle("bob", []byte("{not json"))

	if len(provider.delivered) != 0 {
		t.Errorf("delivered = %d, want 0", len(provider.delivered))
	}
}
