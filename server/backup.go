package main

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed backup_schema.json
var backupSchemaJSON []byte

const backupSchemaURL = "https://priomatrix.app/schemas/backup.json"

var backupSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(backupSchemaURL, bytes.NewReader(backupSchemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(backupSchemaURL)
})

// ListExport is the per-list download offered to end users.
type ListExport struct {
	List       List       `json:"list"`
	TodoItems  []TodoItem `json:"todoItems"`
	ExportedAt time.Time  `json:"exportedAt"`
}

func (m *Matrix) ExportList(ctx context.Context, listID string) (ListExport, error) {
	var out ListExport
	err := m.repo.InTx(ctx, func(r Repository) error {
		l, err := r.GetList(ctx, listID)
		if err != nil {
			return err
		}
		items, err := r.ItemsByList(ctx, listID)
		if err != nil {
			return err
		}
		out = ListExport{List: l, TodoItems: items, ExportedAt: m.now()}
		return nil
	})
	return out, err
}

// ExportAll snapshots every list and item in one transaction.
func (m *Matrix) ExportAll(ctx context.Context) (Backup, error) {
	b := Backup{Version: BackupVersion, Timestamp: m.now()}
	err := m.repo.InTx(ctx, func(r Repository) error {
		var err error
		if b.Lists, err = r.AllLists(ctx); err != nil {
			return err
		}
		b.TodoItems, err = r.AllItems(ctx)
		return err
	})
	m.metrics.backup("export", err)
	if err != nil {
		return Backup{}, err
	}
	return b, nil
}

// ImportAll replaces the whole database with the snapshot. The snapshot is checked for
// referential and numbering consistency before anything is written.
func (m *Matrix) ImportAll(ctx context.Context, b Backup) error {
	err := checkBackup(b)
	if err == nil {
		now := m.now()
		for i := range b.TodoItems {
			if b.TodoItems[i].CreatedAt.IsZero() {
				b.TodoItems[i].CreatedAt = now
			}
		}
		err = m.repo.InTx(ctx, func(r Repository) error {
			return r.ReplaceAll(ctx, b.Lists, b.TodoItems)
		})
	}
	m.metrics.backup("import", err)
	if err != nil {
		return err
	}
	m.log.Info("backup restored", "lists", len(b.Lists), "items", len(b.TodoItems))
	return nil
}

// DecodeBackup validates raw JSON against the backup schema and decodes it.
func DecodeBackup(raw []byte) (Backup, error) {
	schema, err := backupSchema()
	if err != nil {
		return Backup{}, fmt.Errorf("compile backup schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Backup{}, invalid("body", "malformed JSON")
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return Backup{}, err
		}
		verr := &ValidationError{}
		collectSchemaErrors(verr, ve)
		return Backup{}, verr.errOrNil()
	}
	var b Backup
	if err := json.Unmarshal(raw, &b); err != nil {
		return Backup{}, invalid("body", err.Error())
	}
	return b, nil
}

func collectSchemaErrors(verr *ValidationError, err *jsonschema.ValidationError) {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		verr.add(loc, err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(verr, cause)
	}
}

func checkBackup(b Backup) error {
	verr := &ValidationError{}
	if b.Version != BackupVersion {
		verr.add("version", fmt.Sprintf("unsupported version %q", b.Version))
	}
	lists := make(map[string]bool, len(b.Lists))
	ids := make(map[int64]bool, len(b.Lists))
	for i, l := range b.Lists {
		if lists[l.ListID] || ids[l.ID] {
			verr.add(fmt.Sprintf("/lists/%d", i), "duplicate list")
		}
		lists[l.ListID] = true
		ids[l.ID] = true
	}
	type key struct {
		list   string
		number int
	}
	numbers := map[key]bool{}
	itemIDs := make(map[int64]bool, len(b.TodoItems))
	for i, it := range b.TodoItems {
		at := fmt.Sprintf("/todoItems/%d", i)
		switch {
		case !lists[it.ListID]:
			verr.add(at, "unknown listId")
		case itemIDs[it.ID]:
			verr.add(at, "duplicate id")
		case it.Completed && it.Placed():
			verr.add(at, "completed items cannot be placed")
		case !it.Completed && it.LastPosition != nil:
			verr.add(at, "active items cannot have a remembered position")
		case !it.Completed && numbers[key{it.ListID, it.Number}]:
			verr.add(at, "number already in use")
		}
		itemIDs[it.ID] = true
		if !it.Completed {
			numbers[key{it.ListID, it.Number}] = true
		}
	}
	return verr.errOrNil()
}

// legacyItem is the flat item layout of the old data.json document.
type legacyItem struct {
	Text          string   `json:"text"`
	Number        int      `json:"number"`
	Completed     bool     `json:"completed"`
	PositionX     *float64 `json:"positionX"`
	PositionY     *float64 `json:"positionY"`
	Quadrant      *string  `json:"quadrant"`
	LastPositionX *float64 `json:"lastPositionX"`
	LastPositionY *float64 `json:"lastPositionY"`
	LastQuadrant  *string  `json:"lastQuadrant"`
}

type legacyList struct {
	LastUpdated *time.Time `json:"lastUpdated"`
	XAxisLabel  string     `json:"xAxisLabel"`
	YAxisLabel  string     `json:"yAxisLabel"`
}

type legacyDoc struct {
	Lists map[string]struct {
		List      legacyList   `json:"list"`
		TodoItems []legacyItem `json:"todoItems"`
	} `json:"lists"`
	// single-list layout predating shareable lists
	TodoItems      []legacyItem `json:"todoItems"`
	MatrixSettings *legacyList  `json:"matrixSettings"`
}

type legacyGroup struct {
	key   string
	list  legacyList
	items []legacyItem
}

func parseLegacy(raw []byte) ([]legacyGroup, error) {
	var doc legacyDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse legacy document: %w", err)
	}
	var groups []legacyGroup
	keys := make([]string, 0, len(doc.Lists))
	for k := range doc.Lists {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e := doc.Lists[k]
		groups = append(groups, legacyGroup{key: k, list: e.List, items: e.TodoItems})
	}
	if len(doc.TodoItems) > 0 || doc.MatrixSettings != nil {
		g := legacyGroup{key: "default", items: doc.TodoItems}
		if doc.MatrixSettings != nil {
			g.list = *doc.MatrixSettings
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func legacyPosition(x, y *float64, q *string) *Position {
	if x == nil || y == nil || q == nil {
		return nil
	}
	p := &Position{X: *x, Y: *y, Quadrant: Quadrant(*q)}
	verr := &ValidationError{}
	validatePosition(verr, p)
	if verr.errOrNil() != nil {
		return nil
	}
	return p
}

func legacyLabel(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > MaxLabelLength {
		return def
	}
	return s
}

// normalizeLegacyItems repairs what the old store never enforced: blank or oversized
// text, partial positions, placed completed items and clashing active numbers.
func normalizeLegacyItems(listID string, in []legacyItem, now time.Time) ([]TodoItem, error) {
	out := make([]TodoItem, 0, len(in))
	var renumber []int
	used := map[int]bool{}
	for _, li := range in {
		text := strings.TrimSpace(li.Text)
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) > MaxTextLength {
			text = string([]rune(text)[:MaxTextLength])
		}
		it := TodoItem{
			ListID:       listID,
			Text:         text,
			Number:       li.Number,
			Completed:    li.Completed,
			Position:     legacyPosition(li.PositionX, li.PositionY, li.Quadrant),
			LastPosition: legacyPosition(li.LastPositionX, li.LastPositionY, li.LastQuadrant),
			SortOrder:    len(out) + 1,
			CreatedAt:    now,
		}
		if it.Completed {
			if it.LastPosition == nil {
				it.LastPosition = it.Position
			}
			it.Position = nil
			if it.Number < 1 || it.Number > MaxItemNumber {
				it.Number = MaxItemNumber
			}
		} else {
			it.LastPosition = nil
			if it.Number < 1 || it.Number > MaxItemNumber || used[it.Number] {
				renumber = append(renumber, len(out))
			} else {
				used[it.Number] = true
			}
		}
		out = append(out, it)
	}
	next := 1
	for _, idx := range renumber {
		for next <= MaxItemNumber && used[next] {
			next++
		}
		if next > MaxItemNumber {
			return nil, ErrCapacity
		}
		out[idx].Number = next
		used[next] = true
	}
	return out, nil
}

// ImportLegacy loads the old flat-file document into fresh lists and returns them in
// document order. Capacity eviction runs afterwards.
func (m *Matrix) ImportLegacy(ctx context.Context, raw []byte) ([]List, error) {
	groups, err := parseLegacy(raw)
	if err != nil {
		return nil, err
	}
	var created []List
	err = m.repo.InTx(ctx, func(r Repository) error {
		for _, g := range groups {
			now := m.now()
			updated := now
			if g.list.LastUpdated != nil {
				updated = g.list.LastUpdated.UTC().Truncate(time.Microsecond)
			}
			l, err := r.CreateList(ctx, List{
				ListID:      m.newID(),
				LastUpdated: updated,
				XAxisLabel:  legacyLabel(g.list.XAxisLabel, DefaultXAxisLabel),
				YAxisLabel:  legacyLabel(g.list.YAxisLabel, DefaultYAxisLabel),
			})
			if err != nil {
				return err
			}
			items, err := normalizeLegacyItems(l.ListID, g.items, now)
			if err != nil {
				return fmt.Errorf("legacy list %s: %w", g.key, err)
			}
			for _, it := range items {
				if _, err := r.InsertItem(ctx, it); err != nil {
					return err
				}
			}
			m.log.Info("legacy list imported", "legacy_id", g.key, "list_id", l.ListID, "items", len(items))
			created = append(created, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := m.PruneLists(ctx); err != nil {
		return created, err
	}
	return created, nil
}
