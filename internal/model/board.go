package model

import (
	"encoding/json"
	"time"
)

// Default column identifiers. They double as task status values.
const (
	ColumnQueue      = "queue"
	ColumnInProgress = "in-progress"
	ColumnDone       = "done"
)

// Column is an ordered bucket of tasks representing one workflow stage.
// TaskIDs membership is the source of truth for which column a task is in.
type Column struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	TaskIDs []string `json:"taskIds"`
}

// Board is a named collection of columns and the tasks distributed across them.
type Board struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Columns     []Column  `json:"columns" db:"-"`
	ColumnOrder []string  `json:"columnOrder" db:"-"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// DefaultColumns returns the columns a new board starts with.
func DefaultColumns() []Column {
	return []Column{
		{ID: ColumnQueue, Title: "Queue", TaskIDs: []string{}},
		{ID: ColumnInProgress, Title: "In Progress", TaskIDs: []string{}},
		{ID: ColumnDone, Title: "Done", TaskIDs: []string{}},
	}
}

// DefaultColumnOrder returns the column order a new board starts with.
func DefaultColumnOrder() []string {
	return []string{ColumnQueue, ColumnInProgress, ColumnDone}
}

// NewBoard returns an empty board with the default columns.
func NewBoard(id string) *Board {
	return &Board{
		ID:          id,
		Columns:     DefaultColumns(),
		ColumnOrder: DefaultColumnOrder(),
	}
}

// Column returns the column with the given ID, or nil.
func (b *Board) Column(id string) *Column {
	for i := range b.Columns {
		if b.Columns[i].ID == id {
			return &b.Columns[i]
		}
	}
	return nil
}

// Locate returns the column holding taskID and the task's index in it.
// The column is nil if no column holds the task.
func (b *Board) Locate(taskID string) (*Column, int) {
	for i := range b.Columns {
		for j, id := range b.Columns[i].TaskIDs {
			if id == taskID {
				return &b.Columns[i], j
			}
		}
	}
	return nil, -1
}

// RemoveTask drops taskID from every column sequence.
// It reports whether the task was present anywhere.
func (b *Board) RemoveTask(taskID string) bool {
	removed := false
	for i := range b.Columns {
		ids := b.Columns[i].TaskIDs
		kept := ids[:0:0]
		for _, id := range ids {
			if id == taskID {
				removed = true
				continue
			}
			kept = append(kept, id)
		}
		b.Columns[i].TaskIDs = kept
	}
	return removed
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	if b == nil {
		return nil
	}
	c := *b
	c.Columns = CloneColumns(b.Columns)
	c.ColumnOrder = append([]string(nil), b.ColumnOrder...)
	return &c
}

// CloneColumns deep-copies a column slice.
func CloneColumns(cols []Column) []Column {
	if cols == nil {
		return nil
	}
	out := make([]Column, len(cols))
	for i, col := range cols {
		out[i] = Column{
			ID:      col.ID,
			Title:   col.Title,
			TaskIDs: append([]string{}, col.TaskIDs...),
		}
	}
	return out
}

// ColumnsToJSON converts the columns for storage.
func (b *Board) ColumnsToJSON() (string, error) {
	data, err := json.Marshal(b.Columns)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ColumnsFromJSON parses stored columns.
func (b *Board) ColumnsFromJSON(data string) error {
	if data == "" {
		b.Columns = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &b.Columns)
}

// ColumnOrderToJSON converts the column order for storage.
func (b *Board) ColumnOrderToJSON() (string, error) {
	data, err := json.Marshal(b.ColumnOrder)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ColumnOrderFromJSON parses a stored column order.
func (b *Board) ColumnOrderFromJSON(data string) error {
	if data == "" {
		b.ColumnOrder = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &b.ColumnOrder)
}

// CreateBoardRequest represents a request to create a new board.
type CreateBoardRequest struct {
	Name        string   `json:"name"`
	Columns     []Column `json:"columns"`
	ColumnOrder []string `json:"columnOrder"`
}

// Validate validates the create board request.
func (r *CreateBoardRequest) Validate() error {
	if r.Name == "" {
		return ErrNameRequired
	}
	return validateColumns(r.Columns, r.ColumnOrder)
}

// UpdateBoardRequest replaces a board's name and layout.
type UpdateBoardRequest struct {
	Name        string   `json:"name"`
	Columns     []Column `json:"columns"`
	ColumnOrder []string `json:"columnOrder"`
}

// Validate validates the update board request.
func (r *UpdateBoardRequest) Validate() error {
	return validateColumns(r.Columns, r.ColumnOrder)
}

func validateColumns(cols []Column, order []string) error {
	seenCol := make(map[string]bool, len(cols))
	seenTask := make(map[string]bool)
	for _, col := range cols {
		if col.ID == "" {
			return ErrColumnIDRequired
		}
		if seenCol[col.ID] {
			return ErrDuplicateColumn
		}
		seenCol[col.ID] = true
		for _, id := range col.TaskIDs {
			if seenTask[id] {
				return ErrTaskInManyColumns
			}
			seenTask[id] = true
		}
	}
	if len(cols) == 0 {
		return nil
	}
	for _, id := range order {
		if !seenCol[id] {
			return ErrUnknownColumn
		}
	}
	return nil
}
