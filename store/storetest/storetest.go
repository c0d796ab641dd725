// Package storetest builds throwaway stores backed by in-memory SQLite.
package storetest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"wordchain/feed"
	"wordchain/store"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New returns a migrated store on a private in-memory database. publisher
// may be nil.
func New(t testing.TB, publisher feed.Publisher) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// one connection keeps every query on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := store.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(db, publisher, Logger())
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Recorder is a feed.Publisher that keeps every event it is given.
type Recorder struct {
	mu     sync.Mutex
	events []feed.Event
}

func (r *Recorder) Publish(ctx context.Context, event feed.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []feed.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Ops renders events as "collection:op" for compact assertions.
func (r *Recorder) Ops() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = string(ev.Collection) + ":" + string(ev.Op)
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
