package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreWithClient(client), mr
}

func TestConsumeRefreshSessionIsSingleUse(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveRefreshSession(ctx, "hash-a", "usr-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got, _ := mr.Get("refresh:hash-a"); got != "usr-1" {
		t.Fatalf("expected stored user id, got %q", got)
	}
	if ttl := mr.TTL("refresh:hash-a"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	userID, err := store.ConsumeRefreshSession(ctx, "hash-a")
	if err != nil || userID != "usr-1" {
		t.Fatalf("consume: %q %v", userID, err)
	}
	if _, err := store.ConsumeRefreshSession(ctx, "hash-a"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected replay rejected, got %v", err)
	}
}

func TestRefreshSessionLifetime(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Duration
		advance time.Duration
		revoke  bool
		live    bool
	}{
		{name: "live", expires: time.Hour, advance: 59 * time.Minute, live: true},
		{name: "expired", expires: time.Hour, advance: 61 * time.Minute},
		{name: "revoked", expires: time.Hour, revoke: true},
		{name: "past expiry gets default ttl", expires: -time.Minute, advance: 24 * time.Hour, live: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mr := newTestStore(t)
			ctx := context.Background()
			if err := store.SaveRefreshSession(ctx, "hash", "usr-9", time.Now().Add(tt.expires)); err != nil {
				t.Fatalf("save: %v", err)
			}
			if tt.revoke {
				if err := store.RevokeRefreshSession(ctx, "hash"); err != nil {
					t.Fatalf("revoke: %v", err)
				}
			}
			mr.FastForward(tt.advance)

			userID, err := store.ConsumeRefreshSession(ctx, "hash")
			if tt.live {
				if err != nil || userID != "usr-9" {
					t.Fatalf("expected live session, got %q %v", userID, err)
				}
				return
			}
			if !errors.Is(err, ErrSessionNotFound) {
				t.Fatalf("expected ErrSessionNotFound, got %v", err)
			}
		})
	}
}

func TestRevokeUserSessions(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)
	for _, tc := range []struct{ hash, user string }{
		{"phone", "usr-1"}, {"laptop", "usr-1"}, {"other", "usr-2"},
	} {
		if err := store.SaveRefreshSession(ctx, tc.hash, tc.user, expires); err != nil {
			t.Fatalf("save %s: %v", tc.hash, err)
		}
	}
	members, err := mr.Members("refresh:user:usr-1")
	if err != nil || len(members) != 2 {
		t.Fatalf("expected two indexed tokens, got %v %v", members, err)
	}

	if err := store.RevokeUserSessions(ctx, "usr-1"); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	for _, hash := range []string{"phone", "laptop"} {
		if _, err := store.ConsumeRefreshSession(ctx, hash); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected %s revoked, got %v", hash, err)
		}
	}
	if mr.Exists("refresh:user:usr-1") {
		t.Fatal("expected the user index removed")
	}
	if userID, err := store.ConsumeRefreshSession(ctx, "other"); err != nil || userID != "usr-2" {
		t.Fatalf("other user's session should survive, got %q %v", userID, err)
	}
	if err := store.RevokeUserSessions(ctx, "usr-404"); err != nil {
		t.Fatalf("revoke for a user without sessions: %v", err)
	}
}

func TestRevokeUnknownSessionIsNoop(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.RevokeRefreshSession(context.Background(), "missing"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
}

func TestSaveRejectsEmptyUser(t *testing.T) {
	store, mr := newTestStore(t)
	if err := store.SaveRefreshSession(context.Background(), "hash", " ", time.Now().Add(time.Hour)); err == nil {
		t.Fatal("expected an error for an empty user id")
	}
	if mr.Exists("refresh:hash") {
		t.Fatal("nothing should be stored")
	}
}

func TestRedisUnavailable(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()
	if _, err := store.ConsumeRefreshSession(context.Background(), "hash"); err == nil || errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected a connection error, got %v", err)
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	if _, err := Connect("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}
