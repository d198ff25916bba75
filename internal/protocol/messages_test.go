package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid auth message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Auth(t *testing.T) {
	input := []byte(`{"type":"auth","token":"eyJhbGciOi.header.sig"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeAuth {
		t.Fatalf("expected type %q, got %q", TypeAuth, msgType)
	}

	am, ok := msg.(AuthMsg)
	if !ok {
		t.Fatalf("expected AuthMsg, got %T", msg)
	}
	if am.Token != "eyJhbGciOi.header.sig" {
		t.Errorf("unexpected token %q", am.Token)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid send_message message
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessage(t *testing.T) {
	input := []byte(`{"type":"send_message","conversation_id":"c-1","kind":"text","content":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeSendMessage {
		t.Fatalf("expected type %q, got %q", TypeSendMessage, msgType)
	}

	sm, ok := msg.(SendMessageMsg)
	if !ok {
		t.Fatalf("expected SendMessageMsg, got %T", msg)
	}
	if sm.ConversationID != "c-1" {
		t.Errorf("expected conversation_id %q, got %q", "c-1", sm.ConversationID)
	}
	if sm.Kind != "text" || sm.Content != "Hello!" {
		t.Errorf("unexpected kind/content: %q/%q", sm.Kind, sm.Content)
	}
}

// ---------------------------------------------------------------------------
// Test: Metadata passes through undecoded
// ---------------------------------------------------------------------------

func TestParseClientMessage_SendMessageMetadata(t *testing.T) {
	input := []byte(`{"type":"send_message","conversation_id":"c-1","kind":"image","metadata":{"url":"https://cdn/x.png","mime_type":"image/png","size_bytes":9}}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm := msg.(SendMessageMsg)
	if len(sm.Metadata) == 0 {
		t.Fatal("metadata was dropped")
	}
	var probe map[string]interface{}
	if err := json.Unmarshal(sm.Metadata, &probe); err != nil {
		t.Fatalf("metadata not raw JSON: %v", err)
	}
	if probe["url"] != "https://cdn/x.png" {
		t.Errorf("metadata url = %v", probe["url"])
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a typing message
// ---------------------------------------------------------------------------

func TestParseClientMessage_Typing(t *testing.T) {
	input := []byte(`{"type":"typing","conversation_id":"c-1","is_typing":true}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeTyping {
		t.Fatalf("expected type %q, got %q", TypeTyping, msgType)
	}
	tm := msg.(TypingMsg)
	if !tm.IsTyping || tm.ConversationID != "c-1" {
		t.Errorf("unexpected typing payload: %+v", tm)
	}
}

// ---------------------------------------------------------------------------
// Test: Missing type field
// ---------------------------------------------------------------------------

func TestParseClientMessage_MissingType(t *testing.T) {
	input := []byte(`{"conversation_id":"c-1","content":"hi"}`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for missing type field")
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown message type
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"teleport","destination":"mars"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if msgType != "teleport" {
		t.Errorf("expected type to still be returned, got %q", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil message, got %v", msg)
	}
}

// ---------------------------------------------------------------------------
// Test: Server-only types are rejected from clients
// ---------------------------------------------------------------------------

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	input := []byte(`{"type":"message_created"}`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for server-only type")
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed JSON
// ---------------------------------------------------------------------------

func TestParseClientMessage_MalformedJSON(t *testing.T) {
	input := []byte(`{"type":"ping"`)

	_, _, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

// ---------------------------------------------------------------------------
// Test: NewServerMessage injects the type field
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	out, err := NewServerMessage(TypePresence, PresenceMsg{UserID: "alice", Online: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypePresence {
		t.Errorf("expected type %q, got %v", TypePresence, m["type"])
	}
	if m["user_id"] != "alice" || m["online"] != true {
		t.Errorf("payload fields missing: %v", m)
	}
}

// ---------------------------------------------------------------------------
// Test: NewServerMessage overrides a stale type field
// ---------------------------------------------------------------------------

func TestNewServerMessage_OverridesStaleType(t *testing.T) {
	out, err := NewServerMessage(TypePong, PongMsg{Type: "something_else"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), `"type":"pong"`) {
		t.Errorf("type not overridden: %s", out)
	}
}

// ---------------------------------------------------------------------------
// Test: Event envelope round-trips through NewServerMessage
// ---------------------------------------------------------------------------

func TestNewServerMessage_EventEnvelope(t *testing.T) {
	event := EventMsg{
		ConversationID: "c-1",
		Payload:        map[string]interface{}{"id": "m-1", "content": "hi"},
	}
	out, err := NewServerMessage(TypeMessageCreated, event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeMessageCreated || m["conversation_id"] != "c-1" {
		t.Errorf("envelope fields wrong: %v", m)
	}
	payload, ok := m["payload"].(map[string]interface{})
	if !ok || payload["content"] != "hi" {
		t.Errorf("payload wrong: %v", m["payload"])
	}
}
