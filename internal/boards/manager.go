// Package boards is the board and task CRUD service behind the REST API.
// It owns column bookkeeping: a task is listed in exactly one column of its board.
package boards

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/internal/repository"
)

// Config holds configuration for the board manager.
type Config struct {
	// CacheSize is the number of boards kept in memory.
	CacheSize int
}

// Manager manages boards and their tasks.
type Manager struct {
	boards *repository.BoardRepository
	tasks  *repository.TaskRepository
	cache  *lru.Cache[string, *model.Board]

	// serializes read-modify-write of board layouts
	mu  sync.Mutex
	now func() time.Time
}

// NewManager creates a new board manager.
func NewManager(boards *repository.BoardRepository, tasks *repository.TaskRepository, config Config) (*Manager, error) {
	if config.CacheSize <= 0 {
		config.CacheSize = 256
	}
	cache, err := lru.New[string, *model.Board](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create board cache: %w", err)
	}
	return &Manager{
		boards: boards,
		tasks:  tasks,
		cache:  cache,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateBoard creates a board. Missing columns get the default layout.
func (m *Manager) CreateBoard(ctx context.Context, req *model.CreateBoardRequest) (*model.Board, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := m.now()
	board := model.NewBoard(uuid.New().String())
	board.Name = req.Name
	board.CreatedAt = now
	board.UpdatedAt = now
	if len(req.Columns) > 0 {
		board.Columns = model.CloneColumns(req.Columns)
		board.ColumnOrder = append([]string(nil), req.ColumnOrder...)
		if len(board.ColumnOrder) == 0 {
			for _, col := range board.Columns {
				board.ColumnOrder = append(board.ColumnOrder, col.ID)
			}
		}
	}

	if err := m.boards.Create(ctx, board); err != nil {
		return nil, fmt.Errorf("failed to persist board: %w", err)
	}
	m.cache.Add(board.ID, board.Clone())
	log.WithField("board_id", board.ID).Info("Board created")
	return board, nil
}

// GetBoard retrieves a board by ID.
func (m *Manager) GetBoard(ctx context.Context, id string) (*model.Board, error) {
	if b, ok := m.cache.Get(id); ok {
		return b.Clone(), nil
	}
	b, err := m.boards.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.cache.Add(id, b.Clone())
	return b, nil
}

// ListBoards returns every board.
func (m *Manager) ListBoards(ctx context.Context) ([]*model.Board, error) {
	return m.boards.List(ctx)
}

// UpdateBoard replaces a board's name and layout. Empty fields are kept.
func (m *Manager) UpdateBoard(ctx context.Context, id string, req *model.UpdateBoardRequest) (*model.Board, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	board, err := m.GetBoard(ctx, id)
	if err != nil {
		return nil, err
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		board.Name = name
	}
	if req.Columns != nil {
		board.Columns = model.CloneColumns(req.Columns)
	}
	if req.ColumnOrder != nil {
		board.ColumnOrder = append([]string(nil), req.ColumnOrder...)
	}
	return board, m.save(ctx, board)
}

// UpdateColumns replaces only the columns of a board.
func (m *Manager) UpdateColumns(ctx context.Context, id string, columns []model.Column) (*model.Board, error) {
	return m.UpdateBoard(ctx, id, &model.UpdateBoardRequest{Columns: columns})
}

// DeleteBoard deletes a board and its tasks.
func (m *Manager) DeleteBoard(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Remove(id)
	if err := m.boards.Delete(ctx, id); err != nil {
		return err
	}
	log.WithField("board_id", id).Info("Board deleted")
	return nil
}

// ListTasks returns the tasks of a board, or every task when boardID is empty.
func (m *Manager) ListTasks(ctx context.Context, boardID string) ([]*model.Task, error) {
	return m.tasks.List(ctx, boardID)
}

// GetTask retrieves a task by ID.
func (m *Manager) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return m.tasks.GetByID(ctx, id)
}

// CreateTask stores a task and lists it at the head of its status column.
// A client-chosen ID is kept so optimistic records can be confirmed in place.
func (m *Manager) CreateTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	t := task.Clone()
	t.ApplyDefaults()
	t.IsOptimistic = false
	if t.BoardID == "" {
		return nil, model.ErrBoardIDRequired
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	board, err := m.GetBoard(ctx, t.BoardID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := m.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	if col := columnFor(board, t.Status); col != nil {
		if c, _ := board.Locate(t.ID); c == nil {
			col.TaskIDs = append([]string{t.ID}, col.TaskIDs...)
			if err := m.save(ctx, board); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// UpdateTask replaces a task's fields. Column membership is left alone.
func (m *Manager) UpdateTask(ctx context.Context, id string, task *model.Task) (*model.Task, error) {
	existing, err := m.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	t := task.Clone()
	t.ID = id
	t.BoardID = existing.BoardID
	t.IsOptimistic = false
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = m.now()

	if err := m.tasks.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteTask removes a task and its column entry.
func (m *Manager) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.tasks.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.tasks.Delete(ctx, id); err != nil {
		return err
	}

	board, err := m.GetBoard(ctx, existing.BoardID)
	if err != nil {
		return nil
	}
	if board.RemoveTask(id) {
		return m.save(ctx, board)
	}
	return nil
}

// MoveRequest is a column move in board terms.
type MoveRequest struct {
	BoardID     string `json:"boardId"`
	SourceID    string `json:"sourceColumnId"`
	SourceIndex int    `json:"sourceIndex"`
	DestID      string `json:"destColumnId" binding:"required"`
	DestIndex   int    `json:"destIndex"`
}

// MoveTask moves a task into the destination column at DestIndex, counted
// after the task is removed from its current column. The task's status
// follows the column when the column is a status column.
func (m *Manager) MoveTask(ctx context.Context, taskID string, req *MoveRequest) (*model.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if req.BoardID != "" && req.BoardID != task.BoardID {
		return nil, model.ErrTaskNotFound
	}

	board, err := m.GetBoard(ctx, task.BoardID)
	if err != nil {
		return nil, err
	}
	dest := board.Column(req.DestID)
	if dest == nil {
		return nil, model.ErrUnknownColumn
	}

	board.RemoveTask(taskID)
	dest = board.Column(req.DestID)
	dest.TaskIDs = insertAt(dest.TaskIDs, req.DestIndex, taskID)
	if err := m.save(ctx, board); err != nil {
		return nil, err
	}

	if status := model.TaskStatus(req.DestID); status != task.Status && isStatus(status) {
		if err := m.tasks.UpdateStatus(ctx, taskID, status); err != nil {
			return nil, err
		}
	}
	return board, nil
}

// save stores a board layout and refreshes the cache.
func (m *Manager) save(ctx context.Context, board *model.Board) error {
	board.UpdatedAt = m.now()
	if err := m.boards.Update(ctx, board); err != nil {
		m.cache.Remove(board.ID)
		return err
	}
	m.cache.Add(board.ID, board.Clone())
	return nil
}

// CacheLen returns the number of cached boards.
func (m *Manager) CacheLen() int {
	return m.cache.Len()
}

func columnFor(board *model.Board, status model.TaskStatus) *model.Column {
	if col := board.Column(string(status)); col != nil {
		return col
	}
	for _, id := range board.ColumnOrder {
		if col := board.Column(id); col != nil {
			return col
		}
	}
	return nil
}

func isStatus(s model.TaskStatus) bool {
	switch s {
	case model.TaskStatusQueue, model.TaskStatusInProgress, model.TaskStatusDone:
		return true
	}
	return false
}

func insertAt(ids []string, index int, id string) []string {
	if index < 0 {
		index = 0
	}
	if index > len(ids) {
		index = len(ids)
	}
	out := make([]string, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	return append(out, ids[index:]...)
}
