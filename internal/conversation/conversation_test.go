package conversation

import (
	"errors"
	"testing"

	"github.com/loqui/messenger/internal/errs"
)

func TestCreateInputNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      CreateInput
		wantErr bool
		wantLen int
	}{
		{
			name:    "direct pair",
			in:      CreateInput{CreatorID: "alice", Participants: []string{"bob"}, Kind: KindDirect},
			wantLen: 2,
		},
		{
			name:    "creator listed twice",
			in:      CreateInput{CreatorID: "alice", Participants: []string{"alice", "bob"}, Kind: KindDirect},
			wantLen: 2,
		},
		{
			name:    "group with name",
			in:      CreateInput{CreatorID: "alice", Participants: []string{"bob", "carol"}, Kind: KindGroup, Name: "weekend plans"},
			wantLen: 3,
		},
		{
			name:    "group without name",
			in:      CreateInput{CreatorID: "alice", Participants: []string{"bob", "carol"}, Kind: KindGroup},
			wantErr: true,
		},
		{
			name:    "direct with three members",
			in:      CreateInput{CreatorID: "alice", Participants: []string{"bob", "carol"}, Kind: KindDirect},
			wantErr: true,
		},
		{
			name:    "direct with self only",
			in:      CreateInput{CreatorID: "alice", Participants: []string{"alice"}, Kind: KindDirect},
			wantErr: true,
		},
		{
			name:    "blank participant",
			in:      CreateInput{CreatorID: "alice", Participants: []string{"  "}, Kind: KindDirect},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			in:      CreateInput{CreatorID: "alice", Participants: []string{"bob"}, Kind: "broadcast"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.normalize()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, errs.ErrValidation) {
					t.Errorf("error %v is not a validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if len(tt.in.Participants) != tt.wantLen {
				t.Errorf("participants = %v, want %d entries", tt.in.Participants, tt.wantLen)
			}
			if tt.in.Participants[0] != tt.in.CreatorID {
				t.Errorf("creator %q not first in %v", tt.in.CreatorID, tt.in.Participants)
			}
		})
	}
}

func TestDirectKey(t *testing.T) {
	if DirectKey("alice", "bob") != DirectKey("bob", "alice") {
		t.Error("direct key depends on argument order")
	}
	if got := DirectKey("bob", "alice"); got != "alice:bob" {
		t.Errorf("DirectKey = %q, want alice:bob", got)
	}
}

func TestPatchIsZero(t *testing.T) {
	if !(Patch{}).IsZero() {
		t.Error("empty patch not zero")
	}
	name := "renamed"
	if (Patch{Name: &name}).IsZero() {
		t.Error("name patch reported zero")
	}
	if (Patch{AddParticipants: []string{"dave"}}).IsZero() {
		t.Error("membership patch reported zero")
	}
}
