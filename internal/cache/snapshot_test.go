package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"kttrack/api/internal/domain"
)

func newCache(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSnapshotCache(client, "kt:projects:snapshot"), server
}

func TestLoadEmpty(t *testing.T) {
	c, _ := newCache(t)
	if _, err := c.Load(context.Background()); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Load() error = %v, want ErrEmpty", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	c, server := newCache(t)
	ctx := context.Background()
	projects := []domain.Project{{
		ID:         "prj_1",
		Name:       "Billing",
		Status:     domain.ProjectInProgress,
		Completion: 50,
		Sections:   []domain.Section{{ID: "sec_1", Status: domain.SectionUnderstood}},
	}}

	if err := c.Save(ctx, projects); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !server.Exists("kt:projects:snapshot") {
		t.Fatal("snapshot key not written")
	}
	got, err := c.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 1 || got[0].Completion != 50 || got[0].Sections[0].Status != domain.SectionUnderstood {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestLoadCorruptSnapshot(t *testing.T) {
	c, server := newCache(t)
	if err := server.Set("kt:projects:snapshot", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := c.Load(context.Background()); err == nil || errors.Is(err, ErrEmpty) {
		t.Fatalf("Load() error = %v, want decode error", err)
	}
}

func TestLoadFailsWhenRedisDown(t *testing.T) {
	c, server := newCache(t)
	server.Close()
	if _, err := c.Load(context.Background()); err == nil || errors.Is(err, ErrEmpty) {
		t.Fatalf("Load() error = %v, want connection error", err)
	}
}
