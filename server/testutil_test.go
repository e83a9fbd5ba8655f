package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fatalfer interface {
	Fatalf(format string, args ...any)
}

// stepClock advances one second per reading so ordering by time is deterministic.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// openMemStore opens a private in-memory SQLite database with the schema applied.
func openMemStore(t fatalfer) (*Store, func()) {
	ctx := context.Background()
	db, d, err := openDB(ctx, "sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := NewStore(db, d)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		t.Fatalf("migrate: %v", err)
	}
	return s, func() { _ = db.Close() }
}

func newTestStore(t testing.TB) *Store {
	t.Helper()
	s, done := openMemStore(t)
	t.Cleanup(done)
	return s
}

func newTestMatrix(t testing.TB, opts ...MatrixOption) *Matrix {
	t.Helper()
	opts = append([]MatrixOption{WithClock(newStepClock().Now)}, opts...)
	return NewMatrix(newTestStore(t), discardLogger(), opts...)
}

func mustCreateList(t testing.TB, m *Matrix) List {
	t.Helper()
	l, err := m.CreateList(context.Background(), nil)
	require.NoError(t, err)
	return l
}

func mustCreateItem(t testing.TB, m *Matrix, listID, text string) TodoItem {
	t.Helper()
	it, err := m.CreateItem(context.Background(), listID, NewItem{Text: text})
	require.NoError(t, err)
	return it
}

func ptr[T any](v T) *T { return &v }
