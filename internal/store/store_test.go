package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func openBolt(t *testing.T) Store {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "collabtext.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openPostgres(t *testing.T) Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := OpenPostgres(context.Background(), url)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStores(t *testing.T) {
	stores := map[string]func(*testing.T) Store{
		"bolt":     openBolt,
		"postgres": openPostgres,
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			testStore(t, open(t))
		})
	}
}

func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	room := "room-" + uuid.NewString()

	if _, err := s.Load(ctx, room); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := Snapshot{State: []byte(`{"ops":[]}`), Fields: map[string]string{"name": "draft"}}
	hist := []HistoryEntry{{
		ID:     uuid.NewString(),
		Author: 7,
		Update: []byte(`{"origin":7,"ops":[]}`),
		Time:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
	if err := s.Save(ctx, room, first, hist); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := Snapshot{State: []byte(`{"origin":1,"ops":[]}`), Fields: map[string]string{"name": "final", "score": "3"}}
	hist2 := []HistoryEntry{{
		ID:     uuid.NewString(),
		Author: 8,
		Update: []byte(`{"origin":8,"ops":[]}`),
		Time:   time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC),
	}}
	if err := s.Save(ctx, room, second, hist2); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx, room)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(second, got); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}

	entries, err := s.History(ctx, room)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}
	if entries[0].Author != 7 || entries[1].Author != 8 || entries[0].Room != room {
		t.Fatalf("unexpected history %+v", entries)
	}
	if !entries[1].Time.Equal(hist2[0].Time) {
		t.Fatalf("time = %v, want %v", entries[1].Time, hist2[0].Time)
	}
}
