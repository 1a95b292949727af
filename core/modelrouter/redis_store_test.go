package modelrouter

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	store, err := NewRedisStore("redis://" + srv.Addr())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisStoreSaveGetUpdate(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	v := &Version{
		ID:           "ver-1",
		Model:        "recommender",
		Label:        "v1",
		ArtifactPath: "s3://models/recommender/v1",
		Metadata:     map[string]string{"framework": "xgboost"},
		CreatedAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := store.Save(ctx, v); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, v); err == nil {
		t.Fatal("expected duplicate save to fail")
	}

	got, err := store.Get(ctx, "recommender", "v1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ArtifactPath != v.ArtifactPath || got.Metadata["framework"] != "xgboost" {
		t.Fatalf("unexpected version: %+v", got)
	}

	got.Active = true
	got.TrafficPct = 100
	if err := store.Update(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	reread, err := store.Get(ctx, "recommender", "v1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reread.Active || reread.TrafficPct != 100 {
		t.Fatalf("update not persisted: %+v", reread)
	}

	if _, err := store.Get(ctx, "recommender", "ghost"); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
	if err := store.Update(ctx, &Version{Model: "recommender", Label: "ghost"}); !errors.Is(err, ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestRedisStoreListSortedByLabel(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for _, label := range []string{"v3", "v1", "v2"} {
		v := &Version{ID: "id-" + label, Model: "ranker", Label: label, ArtifactPath: "s3://models/ranker/" + label}
		if err := store.Save(ctx, v); err != nil {
			t.Fatalf("save %s: %v", label, err)
		}
	}
	versions, err := store.List(ctx, "ranker")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(versions) != 3 || versions[0].Label != "v1" || versions[2].Label != "v3" {
		t.Fatalf("unexpected order: %+v", versions)
	}

	empty, err := store.List(ctx, "nosuchmodel")
	if err != nil || len(empty) != 0 {
		t.Fatalf("unknown model should list empty, got %v err=%v", empty, err)
	}
}

func TestRouterOverRedisStore(t *testing.T) {
	store := newTestRedisStore(t)
	r := NewRouter(store)
	ctx := context.Background()

	if _, err := r.Register(ctx, "recommender", "v1", "s3://models/recommender/v1", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register(ctx, "recommender", "v2", "s3://models/recommender/v2", nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.SetupSplit(ctx, "recommender", "v1", "v2", 70); err != nil {
		t.Fatalf("split: %v", err)
	}

	first, err := r.Route(ctx, "recommender", "user-9")
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	// a second router over the same store simulates a process restart:
	// activation state survives and routing stays deterministic
	r2 := NewRouter(store)
	again, err := r2.Route(ctx, "recommender", "user-9")
	if err != nil {
		t.Fatalf("route after restart: %v", err)
	}
	if again != first {
		t.Fatalf("routing diverged across restart: %s vs %s", first, again)
	}
}
