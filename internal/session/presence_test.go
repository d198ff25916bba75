package session

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
)

func newTestPresence(t *testing.T, instance string) *PresenceStore {
	t.Helper()
	probe := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := probe.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	iter := probe.Scan(ctx, 0, PresencePrefix+"test_*", 100).Iterator()
	for iter.Next(ctx) {
		probe.Del(ctx, iter.Val())
	}
	probe.Close()

	store, err := NewPresenceStore("localhost:6379", instance)
	if err != nil {
		t.Fatalf("presence store: %v", err)
	}
	t.Cleanup(func() {
		iter := store.client.Scan(ctx, 0, PresencePrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			store.client.Del(ctx, iter.Val())
		}
		store.Close()
	})
	return store
}

func TestPresenceAcrossInstances(t *testing.T) {
	a := newTestPresence(t, "gw-a")
	b := newTestPresence(t, "gw-b")
	ctx := context.Background()

	if err := a.Online(ctx, "test_alice"); err != nil {
		t.Fatalf("online: %v", err)
	}
	if err := b.Online(ctx, "test_alice"); err != nil {
		t.Fatalf("online: %v", err)
	}

	ok, err := a.IsOnline(ctx, "test_alice")
	if err != nil || !ok {
		t.Fatalf("IsOnline = %v,%v want true", ok, err)
	}

	// One instance going away does not mark the user offline while the
	// other still holds a connection.
	if err := a.Offline(ctx, "test_alice"); err != nil {
		t.Fatalf("offline: %v", err)
	}
	ok, err = a.IsOnline(ctx, "test_alice")
	if err != nil || !ok {
		t.Fatalf("IsOnline after one offline = %v,%v want true", ok, err)
	}

	if err := b.Offline(ctx, "test_alice"); err != nil {
		t.Fatalf("offline: %v", err)
	}
	ok, err = a.IsOnline(ctx, "test_alice")
	if err != nil || ok {
		t.Fatalf("IsOnline after both offline = %v,%v want false", ok, err)
	}
}

func TestPresenceFilter(t *testing.T) {
	a := newTestPresence(t, "gw-a")
	ctx := context.Background()

	if err := a.Online(ctx, "test_bob"); err != nil {
		t.Fatalf("online: %v", err)
	}
	online, err := a.OnlineUsers(ctx, []string{"test_bob", "test_carol"})
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	if len(online) != 1 || online[0] != "test_bob" {
		t.Errorf("online = %v, want [test_bob]", online)
	}
}
