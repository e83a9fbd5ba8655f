package main

import (
	"bytes"
	"encoding/json"
	"time"
)

type List struct {
	ID          int64     `json:"id"`
	ListID      string    `json:"listId"`
	UserID      *string   `json:"userId"`
	LastUpdated time.Time `json:"lastUpdated"`
	XAxisLabel  string    `json:"xAxisLabel"`
	YAxisLabel  string    `json:"yAxisLabel"`
}

// Quadrant names one of the four matrix regions.
type Quadrant string

const (
	HighUrgencyHighImpact Quadrant = "high-urgency-high-impact"
	HighUrgencyLowImpact  Quadrant = "high-urgency-low-impact"
	LowUrgencyHighImpact  Quadrant = "low-urgency-high-impact"
	LowUrgencyLowImpact   Quadrant = "low-urgency-low-impact"
)

func (q Quadrant) Valid() bool {
	switch q {
	case HighUrgencyHighImpact, HighUrgencyLowImpact, LowUrgencyHighImpact, LowUrgencyLowImpact:
		return true
	}
	return false
}

// Position is a point on the matrix. A nil *Position means the item is unplaced,
// so the x/y/quadrant trio is always present or absent together.
type Position struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Quadrant Quadrant `json:"quadrant"`
}

// UnmarshalJSON rejects objects that do not carry all of x, y and quadrant.
func (p *Position) UnmarshalJSON(b []byte) error {
	var raw struct {
		X        *float64  `json:"x"`
		Y        *float64  `json:"y"`
		Quadrant *Quadrant `json:"quadrant"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw.X == nil || raw.Y == nil || raw.Quadrant == nil {
		return invalid("position", "x, y and quadrant must be given together")
	}
	*p = Position{X: *raw.X, Y: *raw.Y, Quadrant: *raw.Quadrant}
	return nil
}

type TodoItem struct {
	ID        int64     `json:"id"`
	ListID    string    `json:"listId"`
	Text      string    `json:"text"`
	Number    int       `json:"number"`
	Completed bool      `json:"completed"`
	Position  *Position `json:"position"`
	// LastPosition is only set while the item is completed.
	LastPosition *Position `json:"lastPosition"`
	SortOrder    int       `json:"sortOrder"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (it TodoItem) Placed() bool { return it.Position != nil }

// MatrixSettings is the legacy axis-label record, now a view over List.
type MatrixSettings struct {
	ID         int64  `json:"id"`
	XAxisLabel string `json:"xAxisLabel"`
	YAxisLabel string `json:"yAxisLabel"`
}

func (l List) Settings() MatrixSettings {
	return MatrixSettings{ID: l.ID, XAxisLabel: l.XAxisLabel, YAxisLabel: l.YAxisLabel}
}

// Backup is the full-database snapshot used for disaster recovery.
type Backup struct {
	Version   string     `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
	Lists     []List     `json:"lists"`
	TodoItems []TodoItem `json:"todoItems"`
}

const BackupVersion = "1.0"
