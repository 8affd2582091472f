package clinic

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-portal/internal/availability"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, StandardDefaults), mr
}

func TestStoreGetReturnsDefaults(t *testing.T) {
	store, _ := newTestStore(t)
	cfg, err := store.Get(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cfg.OrgID != "org-1" || cfg.WorkStart != 9 || cfg.SlotMinutes != 30 {
		t.Fatalf("unexpected default config %+v", cfg)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	cfg := DefaultConfig("org-1", StandardDefaults)
	cfg.Name = "Lakeside Family Clinic"
	cfg.SlotMinutes = 20
	cfg.LookupPolicy = availability.PolicyPropagate
	if err := store.Set(ctx, cfg); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !mr.Exists("clinic:config:org-1") {
		t.Fatalf("expected redis key to be written")
	}

	got, err := store.Get(ctx, "org-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Lakeside Family Clinic" || got.SlotMinutes != 20 || got.LookupPolicy != availability.PolicyPropagate {
		t.Fatalf("unexpected config %+v", got)
	}
}

func TestStoreSetRejectsInvalid(t *testing.T) {
	store, mr := newTestStore(t)
	cfg := DefaultConfig("org-1", StandardDefaults)
	cfg.WorkEnd = cfg.WorkStart

	if err := store.Set(context.Background(), cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if mr.Exists("clinic:config:org-1") {
		t.Fatalf("invalid config must not be stored")
	}
}

func TestStoreGetCorruptPayload(t *testing.T) {
	store, mr := newTestStore(t)
	if err := mr.Set("clinic:config:org-1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Get(context.Background(), "org-1"); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}

func TestStoreGetRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewStore(client, StandardDefaults)
	mr.Close()
	if _, err := store.Get(context.Background(), "org-1"); err == nil {
		t.Fatalf("expected error when redis is unavailable")
	}
}
