package model

import (
	"encoding/json"
	"strings"
	"time"
)

// TaskStatus represents the workflow stage of a task.
type TaskStatus string

const (
	TaskStatusQueue      TaskStatus = ColumnQueue
	TaskStatusInProgress TaskStatus = ColumnInProgress
	TaskStatusDone       TaskStatus = ColumnDone
)

// TaskPriority represents the urgency of a task.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
)

// Task is a unit of work on a board.
//
// IsOptimistic marks client-local state that has not been confirmed yet.
// The server never stores it.
type Task struct {
	ID           string       `json:"id" db:"id"`
	BoardID      string       `json:"boardId" db:"board_id"`
	Title        string       `json:"title" db:"title"`
	Description  string       `json:"description,omitempty" db:"description"`
	Status       TaskStatus   `json:"status" db:"status"`
	Priority     TaskPriority `json:"priority" db:"priority"`
	Assignee     string       `json:"assignee,omitempty" db:"assignee"`
	Tags         []string     `json:"tags,omitempty" db:"-"`
	Position     int          `json:"position" db:"position"`
	IsOptimistic bool         `json:"isOptimistic,omitempty" db:"-"`
	CreatedAt    time.Time    `json:"createdAt,omitempty" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt,omitempty" db:"updated_at"`
}

// ApplyDefaults fills in the status and priority a new task gets when none is given.
func (t *Task) ApplyDefaults() {
	t.Title = strings.TrimSpace(t.Title)
	if t.Status == "" {
		t.Status = TaskStatusQueue
	}
	if t.Priority == "" {
		t.Priority = TaskPriorityMedium
	}
}

// Validate checks the fields a task must carry before it is stored or sent.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return ErrTitleRequired
	}
	switch t.Status {
	case TaskStatusQueue, TaskStatusInProgress, TaskStatusDone, "":
	default:
		return ErrInvalidStatus
	}
	switch t.Priority {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, "":
	default:
		return ErrInvalidPriority
	}
	return nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Tags != nil {
		c.Tags = append([]string(nil), t.Tags...)
	}
	return &c
}

// TagsToJSON converts the tags for storage.
func (t *Task) TagsToJSON() (string, error) {
	if t.Tags == nil {
		return "", nil
	}
	data, err := json.Marshal(t.Tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// TagsFromJSON parses stored tags.
func (t *Task) TagsFromJSON(data string) error {
	if data == "" {
		t.Tags = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &t.Tags)
}
