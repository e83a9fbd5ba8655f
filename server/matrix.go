package main

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	DefaultMaxLists   = 100
	MaxItemNumber     = 100
	MaxTextLength     = 128
	MaxLabelLength    = 50
	DefaultXAxisLabel = "Impact"
	DefaultYAxisLabel = "Urgency"
)

// Repository is the persistence contract the matrix manager runs against.
type Repository interface {
	InTx(ctx context.Context, fn func(Repository) error) error

	CreateList(ctx context.Context, l List) (List, error)
	GetList(ctx context.Context, listID string) (List, error)
	AllLists(ctx context.Context) ([]List, error)
	SaveList(ctx context.Context, l List) error
	TouchList(ctx context.Context, listID string, at time.Time) error
	DeleteList(ctx context.Context, listID string) (bool, error)
	CountLists(ctx context.Context) (int, error)
	OldestListIDs(ctx context.Context, limit int) ([]string, error)

	ItemsByList(ctx context.Context, listID string) ([]TodoItem, error)
	GetItem(ctx context.Context, listID string, id int64) (TodoItem, error)
	InsertItem(ctx context.Context, it TodoItem) (TodoItem, error)
	SaveItem(ctx context.Context, it TodoItem) error
	SwapNumbers(ctx context.Context, listID string, a, b TodoItem) error
	DeleteItem(ctx context.Context, listID string, id int64) (bool, error)
	DeleteCompleted(ctx context.Context, listID string) (int, error)

	AllItems(ctx context.Context) ([]TodoItem, error)
	ReplaceAll(ctx context.Context, lists []List, items []TodoItem) error
}

// Matrix owns the list lifecycle and the todo item rules. Mutations of one list are
// serialized in-process and each runs in a single storage transaction.
type Matrix struct {
	repo     Repository
	log      *slog.Logger
	bus      *EventBus
	metrics  *Metrics
	maxLists int
	now      func() time.Time
	newID    func() string
	locks    [64]sync.Mutex
}

type MatrixOption func(*Matrix)

func WithMaxLists(n int) MatrixOption { return func(m *Matrix) { m.maxLists = n } }

func WithClock(now func() time.Time) MatrixOption { return func(m *Matrix) { m.now = now } }

func WithEvents(bus *EventBus) MatrixOption { return func(m *Matrix) { m.bus = bus } }

func WithMetrics(mt *Metrics) MatrixOption { return func(m *Matrix) { m.metrics = mt } }

func NewMatrix(repo Repository, log *slog.Logger, opts ...MatrixOption) *Matrix {
	m := &Matrix{
		repo:     repo,
		log:      log,
		maxLists: DefaultMaxLists,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Matrix) lockFor(listID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(listID))
	return &m.locks[h.Sum32()%uint32(len(m.locks))]
}

func (m *Matrix) publish(listID, typ string, payload any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(Event{Type: typ, ListID: listID, Payload: payload})
}

// --- lists ---

func (m *Matrix) CreateList(ctx context.Context, owner *string) (List, error) {
	l, err := m.repo.CreateList(ctx, List{
		ListID:      m.newID(),
		UserID:      owner,
		LastUpdated: m.now(),
		XAxisLabel:  DefaultXAxisLabel,
		YAxisLabel:  DefaultYAxisLabel,
	})
	if err != nil {
		return List{}, err
	}
	m.metrics.listCreated()
	if _, err := m.PruneLists(ctx); err != nil {
		m.log.Error("evict lists", "err", err)
	}
	return l, nil
}

// PruneLists deletes the least recently updated lists until at most maxLists remain.
func (m *Matrix) PruneLists(ctx context.Context) ([]string, error) {
	var evicted []string
	err := m.repo.InTx(ctx, func(r Repository) error {
		n, err := r.CountLists(ctx)
		if err != nil || n <= m.maxLists {
			return err
		}
		ids, err := r.OldestListIDs(ctx, n-m.maxLists)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := r.DeleteList(ctx, id); err != nil {
				return err
			}
		}
		evicted = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range evicted {
		m.log.Info("list evicted", "list_id", id)
		m.metrics.listEvicted()
		m.publish(id, "list.deleted", map[string]any{"listId": id})
	}
	return evicted, nil
}

func (m *Matrix) GetList(ctx context.Context, listID string) (List, error) {
	return m.repo.GetList(ctx, listID)
}

func (m *Matrix) AllLists(ctx context.Context) ([]List, error) { return m.repo.AllLists(ctx) }

type ListPatch struct {
	XAxisLabel *string `json:"xAxisLabel"`
	YAxisLabel *string `json:"yAxisLabel"`
}

func (p ListPatch) validate() (ListPatch, error) {
	verr := &ValidationError{}
	clean := func(field string, v *string) *string {
		if v == nil {
			return nil
		}
		s := strings.TrimSpace(*v)
		switch {
		case s == "":
			verr.add(field, "must not be empty")
		case utf8.RuneCountInString(s) > MaxLabelLength:
			verr.add(field, "must be at most 50 characters")
		}
		return &s
	}
	out := ListPatch{XAxisLabel: clean("xAxisLabel", p.XAxisLabel), YAxisLabel: clean("yAxisLabel", p.YAxisLabel)}
	return out, verr.errOrNil()
}

func (m *Matrix) UpdateList(ctx context.Context, listID string, p ListPatch) (List, error) {
	p, err := p.validate()
	if err != nil {
		return List{}, err
	}
	mu := m.lockFor(listID)
	mu.Lock()
	defer mu.Unlock()

	var out List
	err = m.repo.InTx(ctx, func(r Repository) error {
		l, err := r.GetList(ctx, listID)
		if err != nil {
			return err
		}
		if p.XAxisLabel != nil {
			l.XAxisLabel = *p.XAxisLabel
		}
		if p.YAxisLabel != nil {
			l.YAxisLabel = *p.YAxisLabel
		}
		l.LastUpdated = m.now()
		if err := r.SaveList(ctx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		return List{}, err
	}
	m.publish(listID, "list.updated", out)
	return out, nil
}

func (m *Matrix) DeleteList(ctx context.Context, listID string) (bool, error) {
	mu := m.lockFor(listID)
	mu.Lock()
	defer mu.Unlock()

	var ok bool
	err := m.repo.InTx(ctx, func(r Repository) error {
		var err error
		ok, err = r.DeleteList(ctx, listID)
		return err
	})
	if err != nil {
		return false, err
	}
	if ok {
		m.publish(listID, "list.deleted", map[string]any{"listId": listID})
	}
	return ok, nil
}

func (m *Matrix) MatrixSettings(ctx context.Context, listID string) (MatrixSettings, error) {
	l, err := m.repo.GetList(ctx, listID)
	if err != nil {
		return MatrixSettings{}, err
	}
	return l.Settings(), nil
}

func (m *Matrix) UpdateMatrixSettings(ctx context.Context, listID string, p ListPatch) (MatrixSettings, error) {
	l, err := m.UpdateList(ctx, listID, p)
	if err != nil {
		return MatrixSettings{}, err
	}
	return l.Settings(), nil
}

// --- items ---

type NewItem struct {
	Text     string    `json:"text"`
	Number   *int      `json:"number"`
	Position *Position `json:"position"`
}

// OptionalPosition distinguishes an absent field from an explicit null.
type OptionalPosition struct {
	Set   bool
	Value *Position
}

func (o *OptionalPosition) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var p Position
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	o.Value = &p
	return nil
}

type ItemPatch struct {
	Text      *string          `json:"text"`
	Number    *int             `json:"number"`
	Completed *bool            `json:"completed"`
	Position  OptionalPosition `json:"position"`
	SortOrder *int             `json:"sortOrder"`
}

func validateText(verr *ValidationError, s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		verr.add("text", "must not be empty")
	case utf8.RuneCountInString(s) > MaxTextLength:
		verr.add("text", "must be at most 128 characters")
	}
	return s
}

func validateNumber(verr *ValidationError, n *int) {
	if n != nil && (*n < 1 || *n > MaxItemNumber) {
		verr.add("number", "must be between 1 and 100")
	}
}

func validatePosition(verr *ValidationError, p *Position) {
	if p == nil {
		return
	}
	if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
		verr.add("position", "x and y must be between 0 and 1")
	}
	if !p.Quadrant.Valid() {
		verr.add("position", "unknown quadrant")
	}
}

// lowestFreeNumber returns the smallest number in [1,100] not held by an active item
// other than except.
func lowestFreeNumber(items []TodoItem, except int64) (int, error) {
	used := make(map[int]bool, len(items))
	for _, it := range items {
		if !it.Completed && it.ID != except {
			used[it.Number] = true
		}
	}
	for n := 1; n <= MaxItemNumber; n++ {
		if !used[n] {
			return n, nil
		}
	}
	return 0, ErrCapacity
}

func numberTaken(items []TodoItem, n int, except int64) bool {
	for _, it := range items {
		if !it.Completed && it.ID != except && it.Number == n {
			return true
		}
	}
	return false
}

func (m *Matrix) ListItems(ctx context.Context, listID string) ([]TodoItem, error) {
	if _, err := m.repo.GetList(ctx, listID); err != nil {
		return nil, err
	}
	return m.repo.ItemsByList(ctx, listID)
}

func (m *Matrix) CreateItem(ctx context.Context, listID string, in NewItem) (TodoItem, error) {
	verr := &ValidationError{}
	text := validateText(verr, in.Text)
	validateNumber(verr, in.Number)
	validatePosition(verr, in.Position)
	if err := verr.errOrNil(); err != nil {
		return TodoItem{}, err
	}
	mu := m.lockFor(listID)
	mu.Lock()
	defer mu.Unlock()

	var out TodoItem
	err := m.repo.InTx(ctx, func(r Repository) error {
		if _, err := r.GetList(ctx, listID); err != nil {
			return err
		}
		items, err := r.ItemsByList(ctx, listID)
		if err != nil {
			return err
		}
		var number int
		if in.Number != nil {
			if numberTaken(items, *in.Number, 0) {
				return invalid("number", "already in use")
			}
			number = *in.Number
		} else if number, err = lowestFreeNumber(items, 0); err != nil {
			return err
		}
		sortOrder := 0
		for _, it := range items {
			if it.SortOrder > sortOrder {
				sortOrder = it.SortOrder
			}
		}
		now := m.now()
		out, err = r.InsertItem(ctx, TodoItem{
			ListID:    listID,
			Text:      text,
			Number:    number,
			Position:  in.Position,
			SortOrder: sortOrder + 1,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}
		return r.TouchList(ctx, listID, now)
	})
	if err != nil {
		return TodoItem{}, err
	}
	m.metrics.itemCreated()
	m.publish(listID, "item.created", out)
	return out, nil
}

// UpdateItem applies a field patch and then reconciles the completion transition:
// completing moves the current position into the remembered one, reactivating restores
// it and hands out a fresh number.
func (m *Matrix) UpdateItem(ctx context.Context, listID string, id int64, p ItemPatch) (TodoItem, error) {
	verr := &ValidationError{}
	var text string
	if p.Text != nil {
		text = validateText(verr, *p.Text)
	}
	validateNumber(verr, p.Number)
	if p.Position.Set {
		validatePosition(verr, p.Position.Value)
	}
	if err := verr.errOrNil(); err != nil {
		return TodoItem{}, err
	}
	mu := m.lockFor(listID)
	mu.Lock()
	defer mu.Unlock()

	var out TodoItem
	err := m.repo.InTx(ctx, func(r Repository) error {
		cur, err := r.GetItem(ctx, listID, id)
		if err != nil {
			return err
		}
		items, err := r.ItemsByList(ctx, listID)
		if err != nil {
			return err
		}
		next := cur
		if p.Text != nil {
			next.Text = text
		}
		if p.SortOrder != nil {
			next.SortOrder = *p.SortOrder
		}
		if p.Position.Set {
			next.Position = p.Position.Value
		}
		if p.Completed != nil {
			next.Completed = *p.Completed
		}

		switch {
		case !cur.Completed && next.Completed:
			next.LastPosition = next.Position
			next.Position = nil
		case cur.Completed && !next.Completed:
			if next.LastPosition != nil && !p.Position.Set {
				next.Position = next.LastPosition
			}
			next.LastPosition = nil
		case next.Completed && next.Position != nil:
			return invalid("position", "completed items cannot be placed")
		}

		switch {
		case p.Number != nil:
			if !next.Completed && numberTaken(items, *p.Number, cur.ID) {
				return invalid("number", "already in use")
			}
			next.Number = *p.Number
		case cur.Completed && !next.Completed:
			if next.Number, err = lowestFreeNumber(items, cur.ID); err != nil {
				return err
			}
		}

		if err := r.SaveItem(ctx, next); err != nil {
			return err
		}
		out = next
		return r.TouchList(ctx, listID, m.now())
	})
	if err != nil {
		return TodoItem{}, err
	}
	m.publish(listID, "item.updated", out)
	return out, nil
}

func (m *Matrix) DeleteItem(ctx context.Context, listID string, id int64) (bool, error) {
	mu := m.lockFor(listID)
	mu.Lock()
	defer mu.Unlock()

	var ok bool
	err := m.repo.InTx(ctx, func(r Repository) error {
		var err error
		if ok, err = r.DeleteItem(ctx, listID, id); err != nil || !ok {
			return err
		}
		return r.TouchList(ctx, listID, m.now())
	})
	if err != nil {
		return false, err
	}
	if ok {
		m.publish(listID, "item.deleted", map[string]any{"id": id})
	}
	return ok, nil
}

// ReorderItems swaps numbers between the dragged item and the active item holding
// targetNumber. Reordering means "swap with", never a shift of the whole list.
func (m *Matrix) ReorderItems(ctx context.Context, listID string, draggedID int64, targetNumber int) error {
	mu := m.lockFor(listID)
	mu.Lock()
	defer mu.Unlock()

	swapped := false
	err := m.repo.InTx(ctx, func(r Repository) error {
		dragged, err := r.GetItem(ctx, listID, draggedID)
		if err != nil {
			return err
		}
		if dragged.Completed {
			return invalid("draggedId", "completed items cannot be reordered")
		}
		if dragged.Number == targetNumber {
			return nil
		}
		items, err := r.ItemsByList(ctx, listID)
		if err != nil {
			return err
		}
		var target *TodoItem
		for i := range items {
			if !items[i].Completed && items[i].Number == targetNumber {
				target = &items[i]
				break
			}
		}
		if target == nil {
			return ErrNotFound
		}
		if err := r.SwapNumbers(ctx, listID, dragged, *target); err != nil {
			return err
		}
		swapped = true
		return r.TouchList(ctx, listID, m.now())
	})
	if err != nil {
		return err
	}
	if swapped {
		m.publish(listID, "items.reordered", map[string]any{"draggedId": draggedID, "targetNumber": targetNumber})
	}
	return nil
}

// ClearCompleted deletes every completed item of the list.
func (m *Matrix) ClearCompleted(ctx context.Context, listID string) (int, error) {
	mu := m.lockFor(listID)
	mu.Lock()
	defer mu.Unlock()

	var n int
	err := m.repo.InTx(ctx, func(r Repository) error {
		if _, err := r.GetList(ctx, listID); err != nil {
			return err
		}
		var err error
		if n, err = r.DeleteCompleted(ctx, listID); err != nil || n == 0 {
			return err
		}
		return r.TouchList(ctx, listID, m.now())
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.publish(listID, "items.cleared", map[string]any{"deleted": n})
	}
	return n, nil
}

// ClearMatrix unplaces every placed item. Remembered positions are left alone.
func (m *Matrix) ClearMatrix(ctx context.Context, listID string) (int, error) {
	mu := m.lockFor(listID)
	mu.Lock()
	defer mu.Unlock()

	var n int
	err := m.repo.InTx(ctx, func(r Repository) error {
		if _, err := r.GetList(ctx, listID); err != nil {
			return err
		}
		items, err := r.ItemsByList(ctx, listID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if !it.Placed() {
				continue
			}
			it.Position = nil
			if err := r.SaveItem(ctx, it); err != nil {
				return err
			}
			n++
		}
		if n == 0 {
			return nil
		}
		return r.TouchList(ctx, listID, m.now())
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.publish(listID, "matrix.cleared", map[string]any{"cleared": n})
	}
	return n, nil
}
