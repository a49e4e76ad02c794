// Package persist is the client side of the board persistence collaborator.
// The sync core only cares whether a call succeeded or failed.
package persist

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/pkg/protocol"
)

// ErrNotFound is returned when the store has no such board or task.
var ErrNotFound = errors.New("not found")

// MoveRequest describes a column move to record on the board.
type MoveRequest struct {
	BoardID     string `json:"boardId"`
	TaskID      string `json:"-"`
	SourceID    string `json:"sourceColumnId"`
	SourceIndex int    `json:"sourceIndex"`
	DestID      string `json:"destColumnId"`
	DestIndex   int    `json:"destIndex"`
}

// Persister is the asynchronous CRUD store for boards and tasks.
type Persister interface {
	ListBoards(ctx context.Context) ([]*model.Board, error)
	GetBoard(ctx context.Context, id string) (*model.Board, error)
	CreateBoard(ctx context.Context, req *model.CreateBoardRequest) (*model.Board, error)
	DeleteBoard(ctx context.Context, id string) error

	ListTasks(ctx context.Context, boardID string) ([]*model.Task, error)
	CreateTask(ctx context.Context, task *model.Task) (*model.Task, error)
	UpdateTask(ctx context.Context, task *model.Task) (*model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	MoveTask(ctx context.Context, req MoveRequest) (*model.Board, error)
}

// Memory is an in-process Persister. It keeps boards and tasks in maps and
// can be told to fail the next calls, which is how gateway tests drive the
// rollback path.
type Memory struct {
	mu       sync.Mutex
	boards   map[string]*model.Board
	tasks    map[string]*model.Task
	failures []error
	calls    []string
}

var _ Persister = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		boards: make(map[string]*model.Board),
		tasks:  make(map[string]*model.Task),
	}
}

// FailNext makes the next len(errs) calls return those errors in order.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Calls returns the operation names received so far.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// PutBoard stores b as is, replacing any board with the same ID.
func (m *Memory) PutBoard(b *model.Board) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.boards[b.ID] = b.Clone()
}

func (m *Memory) begin(op string) error {
	m.calls = append(m.calls, op)
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return &protocol.PersistenceError{Op: op, Err: err}
}

func (m *Memory) ListBoards(context.Context) ([]*model.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("list_boards"); err != nil {
		return nil, err
	}
	out := make([]*model.Board, 0, len(m.boards))
	for _, b := range m.boards {
		out = append(out, b.Clone())
	}
	return out, nil
}

func (m *Memory) GetBoard(_ context.Context, id string) (*model.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("get_board"); err != nil {
		return nil, err
	}
	b, ok := m.boards[id]
	if !ok {
		return nil, &protocol.PersistenceError{Op: "get_board", Err: ErrNotFound}
	}
	return b.Clone(), nil
}

func (m *Memory) CreateBoard(_ context.Context, req *model.CreateBoardRequest) (*model.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("create_board"); err != nil {
		return nil, err
	}
	b := model.NewBoard(uuid.New().String())
	b.Name = req.Name
	if len(req.Columns) > 0 {
		b.Columns = model.CloneColumns(req.Columns)
		b.ColumnOrder = append([]string(nil), req.ColumnOrder...)
	}
	m.boards[b.ID] = b
	return b.Clone(), nil
}

func (m *Memory) DeleteBoard(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("delete_board"); err != nil {
		return err
	}
	if _, ok := m.boards[id]; !ok {
		return &protocol.PersistenceError{Op: "delete_board", Err: ErrNotFound}
	}
	delete(m.boards, id)
	for tid, t := range m.tasks {
		if t.BoardID == id {
			delete(m.tasks, tid)
		}
	}
	return nil
}

func (m *Memory) ListTasks(_ context.Context, boardID string) ([]*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("list_tasks"); err != nil {
		return nil, err
	}
	out := make([]*model.Task, 0)
	for _, t := range m.tasks {
		if boardID == "" || t.BoardID == boardID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (m *Memory) CreateTask(_ context.Context, task *model.Task) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("create_task"); err != nil {
		return nil, err
	}
	t := task.Clone()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.IsOptimistic = false
	t.ApplyDefaults()
	m.tasks[t.ID] = t
	if b, ok := m.boards[t.BoardID]; ok {
		if col := b.Column(string(t.Status)); col != nil && !containsID(col.TaskIDs, t.ID) {
			col.TaskIDs = append([]string{t.ID}, col.TaskIDs...)
		}
	}
	return t.Clone(), nil
}

func (m *Memory) UpdateTask(_ context.Context, task *model.Task) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("update_task"); err != nil {
		return nil, err
	}
	if _, ok := m.tasks[task.ID]; !ok {
		return nil, &protocol.PersistenceError{Op: "update_task", Err: ErrNotFound}
	}
	t := task.Clone()
	t.IsOptimistic = false
	m.tasks[t.ID] = t
	return t.Clone(), nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("delete_task"); err != nil {
		return err
	}
	t, ok := m.tasks[id]
	if !ok {
		return &protocol.PersistenceError{Op: "delete_task", Err: ErrNotFound}
	}
	delete(m.tasks, id)
	if b, ok := m.boards[t.BoardID]; ok {
		b.RemoveTask(id)
	}
	return nil
}

func (m *Memory) MoveTask(_ context.Context, req MoveRequest) (*model.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("move_task"); err != nil {
		return nil, err
	}
	b, ok := m.boards[req.BoardID]
	if !ok {
		return nil, &protocol.PersistenceError{Op: "move_task", Err: ErrNotFound}
	}
	dest := b.Column(req.DestID)
	if dest == nil {
		return nil, &protocol.PersistenceError{Op: "move_task", Err: model.ErrUnknownColumn}
	}
	b.RemoveTask(req.TaskID)
	idx := req.DestIndex
	if idx < 0 {
		idx = 0
	}
	if idx > len(dest.TaskIDs) {
		idx = len(dest.TaskIDs)
	}
	ids := make([]string, 0, len(dest.TaskIDs)+1)
	ids = append(ids, dest.TaskIDs[:idx]...)
	ids = append(ids, req.TaskID)
	dest.TaskIDs = append(ids, dest.TaskIDs[idx:]...)
	if t, ok := m.tasks[req.TaskID]; ok {
		t.Status = model.TaskStatus(req.DestID)
	}
	return b.Clone(), nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
