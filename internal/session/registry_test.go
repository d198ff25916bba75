package session

import (
	"sort"
	"testing"
	"time"
)

func TestBindUnbindTransitions(t *testing.T) {
	r := NewRegistry(0)

	if !r.Bind("c1", "alice") {
		t.Error("first connection did not report came-online")
	}
	if r.Bind("c2", "alice") {
		t.Error("second connection reported came-online")
	}
	if !r.IsOnline("alice") {
		t.Error("alice not online with two connections")
	}
	if got := r.UserID("c2"); got != "alice" {
		t.Errorf("UserID(c2) = %q", got)
	}

	if user, last, _ := r.Unbind("c1"); user != "alice" || last {
		t.Errorf("Unbind(c1) = %q,%v want alice,false", user, last)
	}
	if user, last, _ := r.Unbind("c2"); user != "alice" || !last {
		t.Errorf("Unbind(c2) = %q,%v want alice,true", user, last)
	}
	if r.IsOnline("alice") {
		t.Error("alice still online after last unbind")
	}

	// Unbinding an unauthenticated connection is harmless.
	if user, last, _ := r.Unbind("ghost"); user != "" || last {
		t.Errorf("Unbind(ghost) = %q,%v", user, last)
	}
}

func TestRoomBookkeeping(t *testing.T) {
	r := NewRegistry(0)
	r.Bind("c1", "alice")
	r.Bind("c2", "bob")

	r.Join("c1", "conv:1")
	r.Join("c2", "conv:1")
	r.Join("c1", "user:alice")

	members := r.RoomMembers("conv:1")
	sort.Strings(members)
	if len(members) != 2 || members[0] != "c1" || members[1] != "c2" {
		t.Errorf("conv:1 members = %v", members)
	}

	r.Leave("c2", "conv:1")
	if members := r.RoomMembers("conv:1"); len(members) != 1 || members[0] != "c1" {
		t.Errorf("conv:1 members after leave = %v", members)
	}

	// Unbind evicts the connection from every room it had joined.
	r.Unbind("c1")
	if members := r.RoomMembers("conv:1"); len(members) != 0 {
		t.Errorf("conv:1 members after unbind = %v", members)
	}
	if rooms := r.Rooms("c1"); len(rooms) != 0 {
		t.Errorf("c1 rooms after unbind = %v", rooms)
	}
}

func TestTypingLifecycle(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)

	if !r.SetTyping("conv:1", "alice") {
		t.Error("first SetTyping did not report a new indicator")
	}
	if r.SetTyping("conv:1", "alice") {
		t.Error("refresh reported a new indicator")
	}
	if users := r.TypingUsers("conv:1"); len(users) != 1 || users[0] != "alice" {
		t.Errorf("typing users = %v", users)
	}

	if !r.ClearTyping("conv:1", "alice") {
		t.Error("clear of a live indicator reported no-op")
	}
	if r.ClearTyping("conv:1", "alice") {
		t.Error("repeated clear reported a live indicator")
	}
}

func TestUnbindClearsTyping(t *testing.T) {
	r := NewRegistry(time.Minute)
	r.Bind("c1", "alice")
	r.Bind("c2", "alice")
	r.SetTyping("conv:1", "alice")
	r.SetTyping("conv:2", "alice")
	r.SetTyping("conv:1", "bob")

	// A non-last disconnect leaves the indicators alone; alice may still be
	// typing from the other device.
	if _, last, stopped := r.Unbind("c1"); last || len(stopped) != 0 {
		t.Errorf("Unbind(c1) last=%v stopped=%v", last, stopped)
	}
	if users := r.TypingUsers("conv:1"); len(users) != 2 {
		t.Errorf("conv:1 typing after first unbind = %v", users)
	}

	// The last disconnect drops every conversation alice was typing in and
	// reports them, leaving other typists untouched.
	_, last, stopped := r.Unbind("c2")
	if !last {
		t.Fatal("second unbind did not report went-offline")
	}
	sort.Strings(stopped)
	if len(stopped) != 2 || stopped[0] != "conv:1" || stopped[1] != "conv:2" {
		t.Errorf("stopped = %v, want [conv:1 conv:2]", stopped)
	}
	if users := r.TypingUsers("conv:1"); len(users) != 1 || users[0] != "bob" {
		t.Errorf("conv:1 typing after last unbind = %v", users)
	}
	if users := r.TypingUsers("conv:2"); len(users) != 0 {
		t.Errorf("conv:2 typing after last unbind = %v", users)
	}
}

func TestTypingExpiry(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	r.SetTyping("conv:1", "alice")
	r.SetTyping("conv:2", "bob")

	// Nothing expires before the deadline.
	if expired := r.SweepTyping(time.Now()); len(expired) != 0 {
		t.Errorf("early sweep expired %v", expired)
	}
	if users := r.TypingUsers("conv:1"); len(users) != 1 {
		t.Errorf("typing users before expiry = %v", users)
	}

	future := time.Now().Add(100 * time.Millisecond)
	expired := r.SweepTyping(future)
	if len(expired) != 2 {
		t.Fatalf("sweep expired %d indicators, want 2", len(expired))
	}
	if users := r.TypingUsers("conv:1"); len(users) != 0 {
		t.Errorf("typing users after expiry = %v", users)
	}

	// A refresh pushes the deadline forward past a would-be expiry.
	r.SetTyping("conv:1", "alice")
	time.Sleep(30 * time.Millisecond)
	r.SetTyping("conv:1", "alice")
	time.Sleep(30 * time.Millisecond)
	if users := r.TypingUsers("conv:1"); len(users) != 1 {
		t.Error("refreshed indicator expired early")
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry(0)
	r.Bind("c1", "alice")
	r.Bind("c2", "alice")
	r.Bind("c3", "bob")
	r.Join("c1", "conv:1")
	r.Join("c3", "conv:2")

	s := r.Snapshot()
	if s.Connections != 3 || s.Users != 2 || s.Rooms != 2 {
		t.Errorf("snapshot = %+v", s)
	}
}
