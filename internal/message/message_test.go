package message

import (
	"errors"
	"strings"
	"testing"

	"github.com/loqui/messenger/internal/errs"
)

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		content string
		wantErr bool
	}{
		{"plain text", KindText, "hello there", false},
		{"empty text", KindText, "", true},
		{"empty caption on image", KindImage, "", false},
		{"unicode within limits", KindText, strings.Repeat("é", MaxContentChars), false},
		{"too many chars", KindText, strings.Repeat("a", MaxContentChars+1), true},
		{"too many bytes", KindText, strings.Repeat("é", MaxContentChars), false},
		{"byte limit exceeded", KindText, strings.Repeat("漢", 2000), true},
		{"invalid utf8", KindText, string([]byte{0xff, 0xfe}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.kind, tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, errs.ErrValidation) {
					t.Errorf("error %v is not a validation error", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		kind    Kind
		content string
		want    string
	}{
		{KindText, "hello", "hello"},
		{KindImage, "", "[image]"},
		{KindFile, "", "[file]"},
		{KindVideo, "", "[video]"},
		{KindAudio, "", "[audio]"},
		{KindServiceOffer, "", "[service offer]"},
		{KindBookingRequest, "", "[booking request]"},
		{KindLocation, "", "[location]"},
		{KindSystem, "alice joined", "alice joined"},
	}
	for _, tt := range tests {
		m := &Message{Kind: tt.kind, Content: tt.content}
		if got := m.Preview(); got != tt.want {
			t.Errorf("Preview(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}

	long := &Message{Kind: KindText, Content: strings.Repeat("x", 500)}
	if p := long.Preview(); len([]rune(p)) != 120 {
		t.Errorf("long preview has %d runes, want 120", len([]rune(p)))
	}
}

func TestListFilterClamp(t *testing.T) {
	f := ListFilter{Page: 0, Limit: 0}
	f.clamp()
	if f.Page != 1 || f.Limit != 50 {
		t.Errorf("clamp defaults = page %d limit %d, want 1/50", f.Page, f.Limit)
	}

	f = ListFilter{Page: 3, Limit: 5000}
	f.clamp()
	if f.Limit != MaxPageLimit {
		t.Errorf("clamp cap = %d, want %d", f.Limit, MaxPageLimit)
	}
	if f.Page != 3 {
		t.Errorf("clamp changed page to %d", f.Page)
	}
}
