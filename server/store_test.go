package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := &Store{dialect: dialectPostgres}
	lite := &Store{dialect: dialectSQLite}
	q := `update todo_items set number=? where id=? and list_id=?`

	assert.Equal(t, `update todo_items set number=$1 where id=$2 and list_id=$3`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
	assert.Equal(t, `select 1`, pg.rebind(`select 1`))
}

func TestDialectFor(t *testing.T) {
	for _, name := range []string{"postgres", "pgx", "PGX"} {
		d, err := dialectFor(name)
		require.NoError(t, err)
		assert.Equal(t, dialectPostgres, d)
	}
	d, err := dialectFor("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, dialectSQLite, d)

	_, err = dialectFor("mysql")
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func seedList(t *testing.T, s *Store, listID string, at time.Time) List {
	t.Helper()
	l, err := s.CreateList(context.Background(), List{ListID: listID, LastUpdated: at, XAxisLabel: "Impact", YAxisLabel: "Urgency"})
	require.NoError(t, err)
	return l
}

func TestStore_ListRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	at := time.Date(2024, 1, 2, 3, 4, 5, 123000, time.UTC)
	owner := "user-1"
	l, err := s.CreateList(ctx, List{ListID: "abc", UserID: &owner, LastUpdated: at, XAxisLabel: "Value", YAxisLabel: "Effort"})
	require.NoError(t, err)

	got, err := s.GetList(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, l.ID, got.ID)
	require.NotNil(t, got.UserID)
	assert.Equal(t, owner, *got.UserID)
	assert.True(t, at.Equal(got.LastUpdated), "got %v", got.LastUpdated)
	assert.Equal(t, "Effort", got.YAxisLabel)

	_, err = s.CreateList(ctx, List{ListID: "abc", LastUpdated: at, XAxisLabel: "x", YAxisLabel: "y"})
	assert.Error(t, err, "list ids are unique")

	err = s.SaveList(ctx, List{ListID: "missing", LastUpdated: at, XAxisLabel: "x", YAxisLabel: "y"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_OldestListIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedList(t, s, "c", base.Add(3*time.Hour))
	seedList(t, s, "a", base.Add(time.Hour))
	seedList(t, s, "b", base.Add(2*time.Hour))
	// same timestamp as "a", inserted later
	seedList(t, s, "a2", base.Add(time.Hour))

	ids, err := s.OldestListIDs(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a2", "b"}, ids)

	n, err := s.CountLists(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	all, err := s.AllLists(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "c", all[0].ListID)
}

func TestStore_ItemColumns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedList(t, s, "L", time.Now().UTC())

	it, err := s.InsertItem(ctx, TodoItem{
		ListID:       "L",
		Text:         "placed",
		Number:       4,
		Position:     &Position{X: 0.25, Y: 0.75, Quadrant: HighUrgencyHighImpact},
		SortOrder:    1,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		LastPosition: nil,
	})
	require.NoError(t, err)

	got, err := s.GetItem(ctx, "L", it.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Position)
	assert.Equal(t, Position{X: 0.25, Y: 0.75, Quadrant: HighUrgencyHighImpact}, *got.Position)
	assert.Nil(t, got.LastPosition)

	got.Completed = true
	got.LastPosition, got.Position = got.Position, nil
	require.NoError(t, s.SaveItem(ctx, got))

	again, err := s.GetItem(ctx, "L", it.ID)
	require.NoError(t, err)
	assert.True(t, again.Completed)
	assert.Nil(t, again.Position)
	assert.NotNil(t, again.LastPosition)

	_, err = s.GetItem(ctx, "other", it.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ActiveNumberIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedList(t, s, "L", time.Now().UTC())
	now := time.Now().UTC()

	_, err := s.InsertItem(ctx, TodoItem{ListID: "L", Text: "one", Number: 1, CreatedAt: now})
	require.NoError(t, err)
	_, err = s.InsertItem(ctx, TodoItem{ListID: "L", Text: "dup", Number: 1, CreatedAt: now})
	assert.Error(t, err)
	_, err = s.InsertItem(ctx, TodoItem{ListID: "L", Text: "done dup", Number: 1, Completed: true, CreatedAt: now})
	assert.NoError(t, err, "completed items do not hold their number")
}

func TestStore_SwapNumbers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedList(t, s, "L", time.Now().UTC())
	now := time.Now().UTC()
	a, err := s.InsertItem(ctx, TodoItem{ListID: "L", Text: "a", Number: 1, CreatedAt: now})
	require.NoError(t, err)
	b, err := s.InsertItem(ctx, TodoItem{ListID: "L", Text: "b", Number: 5, CreatedAt: now})
	require.NoError(t, err)

	require.NoError(t, s.InTx(ctx, func(r Repository) error { return r.SwapNumbers(ctx, "L", a, b) }))

	items, err := s.ItemsByList(ctx, "L")
	require.NoError(t, err)
	assert.Equal(t, 5, items[0].Number)
	assert.Equal(t, 1, items[1].Number)
}

func TestStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(r Repository) error {
		if _, err := r.CreateList(ctx, List{ListID: "tmp", LastUpdated: time.Now().UTC(), XAxisLabel: "x", YAxisLabel: "y"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetList(ctx, "tmp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteCompletedAndReplaceAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedList(t, s, "L", time.Now().UTC())
	now := time.Now().UTC()
	_, err := s.InsertItem(ctx, TodoItem{ListID: "L", Text: "open", Number: 1, CreatedAt: now})
	require.NoError(t, err)
	_, err = s.InsertItem(ctx, TodoItem{ListID: "L", Text: "done", Number: 2, Completed: true, CreatedAt: now})
	require.NoError(t, err)

	n, err := s.DeleteCompleted(ctx, "L")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lists := []List{{ID: 7, ListID: "restored", LastUpdated: now, XAxisLabel: "Impact", YAxisLabel: "Urgency"}}
	items := []TodoItem{{ID: 40, ListID: "restored", Text: "back", Number: 3, SortOrder: 1, CreatedAt: now}}
	require.NoError(t, s.InTx(ctx, func(r Repository) error { return r.ReplaceAll(ctx, lists, items) }))

	_, err = s.GetList(ctx, "L")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := s.GetItem(ctx, "restored", 40)
	require.NoError(t, err)
	assert.Equal(t, "back", got.Text)

	// new rows continue after the restored ids
	fresh, err := s.InsertItem(ctx, TodoItem{ListID: "restored", Text: "new", Number: 1, CreatedAt: now})
	require.NoError(t, err)
	assert.Greater(t, fresh.ID, int64(40))
}
