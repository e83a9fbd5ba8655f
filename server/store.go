package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "pgx":
		return dialectPostgres, nil
	case "sqlite", "sqlite3":
		return dialectSQLite, nil
	}
	return 0, fmt.Errorf("unknown database driver %q", driver)
}

// openDB opens and pings the configured database. SQLite gets a single connection so
// that writers never contend and ":memory:" databases survive across calls.
func openDB(ctx context.Context, driver, dsn string) (*sql.DB, dialect, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, 0, err
	}
	name := "pgx"
	if d == dialectSQLite {
		name = "sqlite"
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, 0, err
	}
	switch d {
	case dialectPostgres:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	case dialectSQLite:
		db.SetMaxOpenConns(1)
		pragmas := []string{
			"PRAGMA foreign_keys=ON;",
			"PRAGMA busy_timeout=5000;",
		}
		if dsn != ":memory:" {
			pragmas = append(pragmas, "PRAGMA journal_mode=WAL;")
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				_ = db.Close()
				return nil, 0, err
			}
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, 0, err
	}
	return db, d, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the relational persistence layer. A Store returned inside InTx is bound to
// the transaction; the root Store runs each call on its own.
type Store struct {
	db      *sql.DB
	q       querier
	dialect dialect
	inTx    bool
}

func NewStore(db *sql.DB, d dialect) *Store { return &Store{db: db, q: db, dialect: d} }

func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.dialect == dialectPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(&Store{db: s.db, q: tx, dialect: s.dialect, inTx: true}); err != nil {
		return err
	}
	return tx.Commit()
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != dialectPostgres || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(q), args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(q), args...)
}

func (s *Store) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(q), args...)
}

type scanner interface{ Scan(dest ...any) error }

const listCols = `id, list_id, user_id, last_updated, x_axis_label, y_axis_label`

func scanList(sc scanner) (List, error) {
	var l List
	var user sql.NullString
	if err := sc.Scan(&l.ID, &l.ListID, &user, &l.LastUpdated, &l.XAxisLabel, &l.YAxisLabel); err != nil {
		return List{}, err
	}
	if user.Valid {
		l.UserID = &user.String
	}
	l.LastUpdated = l.LastUpdated.UTC()
	return l, nil
}

func (s *Store) CreateList(ctx context.Context, l List) (List, error) {
	err := s.queryRow(ctx,
		`insert into lists(list_id, user_id, last_updated, x_axis_label, y_axis_label) values(?,?,?,?,?) returning id`,
		l.ListID, l.UserID, l.LastUpdated, l.XAxisLabel, l.YAxisLabel).Scan(&l.ID)
	if err != nil {
		return List{}, fmt.Errorf("insert list: %w", err)
	}
	return l, nil
}

func (s *Store) GetList(ctx context.Context, listID string) (List, error) {
	l, err := scanList(s.queryRow(ctx, `select `+listCols+` from lists where list_id=?`, listID))
	if errors.Is(err, sql.ErrNoRows) {
		return List{}, ErrNotFound
	}
	if err != nil {
		return List{}, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

// AllLists returns every list, most recently updated first.
func (s *Store) AllLists(ctx context.Context) ([]List, error) {
	rows, err := s.query(ctx, `select `+listCols+` from lists order by last_updated desc, id desc`)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()
	out := []List{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveList writes the mutable list fields.
func (s *Store) SaveList(ctx context.Context, l List) error {
	res, err := s.exec(ctx, `update lists set x_axis_label=?, y_axis_label=?, last_updated=? where list_id=?`,
		l.XAxisLabel, l.YAxisLabel, l.LastUpdated, l.ListID)
	if err != nil {
		return fmt.Errorf("update list: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TouchList(ctx context.Context, listID string, at time.Time) error {
	_, err := s.exec(ctx, `update lists set last_updated=? where list_id=?`, at, listID)
	if err != nil {
		return fmt.Errorf("touch list: %w", err)
	}
	return nil
}

// DeleteList removes the list and its items; it reports whether the list existed.
func (s *Store) DeleteList(ctx context.Context, listID string) (bool, error) {
	if _, err := s.exec(ctx, `delete from todo_items where list_id=?`, listID); err != nil {
		return false, fmt.Errorf("delete list items: %w", err)
	}
	res, err := s.exec(ctx, `delete from lists where list_id=?`, listID)
	if err != nil {
		return false, fmt.Errorf("delete list: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) CountLists(ctx context.Context) (int, error) {
	var n int
	if err := s.queryRow(ctx, `select count(*) from lists`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count lists: %w", err)
	}
	return n, nil
}

// OldestListIDs returns up to limit list ids ordered by least recent update.
func (s *Store) OldestListIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.query(ctx, `select list_id from lists order by last_updated asc, id asc limit ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("oldest lists: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const itemCols = `id, list_id, text, number, completed, position_x, position_y, quadrant,
	last_position_x, last_position_y, last_quadrant, sort_order, created_at`

func scanItem(sc scanner) (TodoItem, error) {
	var it TodoItem
	var px, py, lx, ly sql.NullFloat64
	var pq, lq sql.NullString
	err := sc.Scan(&it.ID, &it.ListID, &it.Text, &it.Number, &it.Completed, &px, &py, &pq,
		&lx, &ly, &lq, &it.SortOrder, &it.CreatedAt)
	if err != nil {
		return TodoItem{}, err
	}
	it.Position = positionFromColumns(px, py, pq)
	it.LastPosition = positionFromColumns(lx, ly, lq)
	it.CreatedAt = it.CreatedAt.UTC()
	return it, nil
}

func positionFromColumns(x, y sql.NullFloat64, q sql.NullString) *Position {
	if !x.Valid || !y.Valid || !q.Valid {
		return nil
	}
	return &Position{X: x.Float64, Y: y.Float64, Quadrant: Quadrant(q.String)}
}

func positionColumns(p *Position) (x, y, q any) {
	if p == nil {
		return nil, nil, nil
	}
	return p.X, p.Y, string(p.Quadrant)
}

func (s *Store) ItemsByList(ctx context.Context, listID string) ([]TodoItem, error) {
	rows, err := s.query(ctx, `select `+itemCols+` from todo_items where list_id=? order by sort_order, id`, listID)
	if err != nil {
		return nil, fmt.Errorf("items by list: %w", err)
	}
	defer rows.Close()
	out := []TodoItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) GetItem(ctx context.Context, listID string, id int64) (TodoItem, error) {
	it, err := scanItem(s.queryRow(ctx, `select `+itemCols+` from todo_items where id=? and list_id=?`, id, listID))
	if errors.Is(err, sql.ErrNoRows) {
		return TodoItem{}, ErrNotFound
	}
	if err != nil {
		return TodoItem{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

func (s *Store) InsertItem(ctx context.Context, it TodoItem) (TodoItem, error) {
	px, py, pq := positionColumns(it.Position)
	lx, ly, lq := positionColumns(it.LastPosition)
	err := s.queryRow(ctx,
		`insert into todo_items(list_id, text, number, completed, position_x, position_y, quadrant,
			last_position_x, last_position_y, last_quadrant, sort_order, created_at)
		 values(?,?,?,?,?,?,?,?,?,?,?,?) returning id`,
		it.ListID, it.Text, it.Number, it.Completed, px, py, pq, lx, ly, lq, it.SortOrder, it.CreatedAt).
		Scan(&it.ID)
	if err != nil {
		return TodoItem{}, fmt.Errorf("insert item: %w", err)
	}
	return it, nil
}

// SaveItem writes every mutable column of the item as one row update.
func (s *Store) SaveItem(ctx context.Context, it TodoItem) error {
	px, py, pq := positionColumns(it.Position)
	lx, ly, lq := positionColumns(it.LastPosition)
	res, err := s.exec(ctx,
		`update todo_items set text=?, number=?, completed=?, position_x=?, position_y=?, quadrant=?,
			last_position_x=?, last_position_y=?, last_quadrant=?, sort_order=?
		 where id=? and list_id=?`,
		it.Text, it.Number, it.Completed, px, py, pq, lx, ly, lq, it.SortOrder, it.ID, it.ListID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SwapNumbers exchanges the numbers of two items. The intermediate 0 keeps the
// active-number unique index satisfied after every statement.
func (s *Store) SwapNumbers(ctx context.Context, listID string, a TodoItem, b TodoItem) error {
	steps := []struct {
		id     int64
		number int
	}{{a.ID, 0}, {b.ID, a.Number}, {a.ID, b.Number}}
	for _, st := range steps {
		if _, err := s.exec(ctx, `update todo_items set number=? where id=? and list_id=?`, st.number, st.id, listID); err != nil {
			return fmt.Errorf("swap numbers: %w", err)
		}
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, listID string, id int64) (bool, error) {
	res, err := s.exec(ctx, `delete from todo_items where id=? and list_id=?`, id, listID)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *Store) DeleteCompleted(ctx context.Context, listID string) (int, error) {
	res, err := s.exec(ctx, `delete from todo_items where list_id=? and completed=?`, listID, true)
	if err != nil {
		return 0, fmt.Errorf("delete completed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) AllItems(ctx context.Context) ([]TodoItem, error) {
	rows, err := s.query(ctx, `select `+itemCols+` from todo_items order by list_id, sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("all items: %w", err)
	}
	defer rows.Close()
	out := []TodoItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ReplaceAll wipes both tables and inserts the given rows keeping their ids.
func (s *Store) ReplaceAll(ctx context.Context, lists []List, items []TodoItem) error {
	if _, err := s.exec(ctx, `delete from todo_items`); err != nil {
		return fmt.Errorf("clear items: %w", err)
	}
	if _, err := s.exec(ctx, `delete from lists`); err != nil {
		return fmt.Errorf("clear lists: %w", err)
	}
	for _, l := range lists {
		_, err := s.exec(ctx,
			`insert into lists(id, list_id, user_id, last_updated, x_axis_label, y_axis_label) values(?,?,?,?,?,?)`,
			l.ID, l.ListID, l.UserID, l.LastUpdated, l.XAxisLabel, l.YAxisLabel)
		if err != nil {
			return fmt.Errorf("restore list %s: %w", l.ListID, err)
		}
	}
	for _, it := range items {
		px, py, pq := positionColumns(it.Position)
		lx, ly, lq := positionColumns(it.LastPosition)
		_, err := s.exec(ctx,
			`insert into todo_items(id, list_id, text, number, completed, position_x, position_y, quadrant,
				last_position_x, last_position_y, last_quadrant, sort_order, created_at)
			 values(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			it.ID, it.ListID, it.Text, it.Number, it.Completed, px, py, pq, lx, ly, lq, it.SortOrder, it.CreatedAt)
		if err != nil {
			return fmt.Errorf("restore item %d: %w", it.ID, err)
		}
	}
	if s.dialect == dialectPostgres {
		for _, t := range []string{"lists", "todo_items"} {
			q := `select setval(pg_get_serial_sequence('` + t + `','id'), coalesce((select max(id) from ` + t + `), 0) + 1, false)`
			if _, err := s.exec(ctx, q); err != nil {
				return fmt.Errorf("reset %s sequence: %w", t, err)
			}
		}
	}
	return nil
}
