package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func newTestKeyDBStore(t *testing.T, options Options) Store {
	t.Helper()

	addr := os.Getenv("TEST_KEYDB_ADDR")
	var (
		store Store
		err   error
	)

	if addr == "" {
		mini, merr := miniredis.Run()
		if merr != nil {
			t.Fatalf("start miniredis: %v", merr)
		}
		t.Cleanup(mini.Close)
		store, err = NewKeyDBStore(Config{Addr: mini.Addr()}, options)
	} else {
		// Use the externally provided KeyDB instance.
		t.Cleanup(func() {
			client := redis.NewClient(&redis.Options{Addr: addr})
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		store, err = NewKeyDBStore(Config{Addr: addr}, options)
		if err == nil {
			if ks, ok := store.(*keydbStore); ok {
				_ = ks.client.FlushDB(context.Background()).Err()
			}
		}
	}
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func TestKeyDBStore(t *testing.T) {
	clock := steppingClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	exerciseStore(t, newTestKeyDBStore(t, Options{}.WithClock(clock)))
}

func TestKeyDBStoreScorePrecision(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	store := newTestKeyDBStore(t, Options{}.WithClock(func() time.Time { return stamp }))
	ctx := context.Background()

	res, err := store.PutBody(ctx, "deploys", "api", []byte("{}"))
	if err != nil {
		t.Fatalf("PutBody: %v", err)
	}

	versions, err := store.ListVersions(ctx, "deploys", "api")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 version, got %d", len(versions))
	}
	if !versions[0].LastModified.Equal(res.LastModified) {
		t.Fatalf("expected %v, got %v", res.LastModified, versions[0].LastModified)
	}
	if !res.LastModified.Equal(stamp.Truncate(time.Microsecond)) {
		t.Fatalf("expected microsecond precision, got %v", res.LastModified)
	}
}

func TestKeyDBStoreUnknownKeyHasNoVersions(t *testing.T) {
	store := newTestKeyDBStore(t, Options{})

	versions, err := store.ListVersions(context.Background(), "deploys", "ghost")
	if err != nil {
		t.Fatalf("ListVersions: %v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("expected no versions, got %d", len(versions))
	}
}
