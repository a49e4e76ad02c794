// Package boardstate is the client-side mirror of a board's columns and tasks.
//
// Confirmed operations apply state that another party already accepted and
// are idempotent when replayed. Optimistic operations apply a local change at
// once and keep a snapshot of the touched task's record and position, which
// is exactly the state needed to undo it.
//
// Only one snapshot is kept per Store. A second optimistic operation issued
// before the first is settled overwrites the first snapshot, after which only
// the most recent operation can be undone.
package boardstate

import (
	"sort"
	"sync"

	"github.com/taskboard-live/backend/internal/model"
)

// Token identifies the snapshot taken by one optimistic operation.
type Token uint64

// snapshot is the prior state of the one task an optimistic operation touched.
// Other tasks and columns are never part of it, so confirmed changes to them
// survive a rollback.
type snapshot struct {
	token   Token
	taskID  string
	record  bool // restore the task record
	hadTask bool
	task    *model.Task // prior record, when hadTask
	// prior position, restored only while the task still sits in landed
	position bool
	column   string // "" when the task was in no column
	index    int
	landed   string // column after the operation, "" when none
	gone     bool   // deleted by a confirmed operation since
}

// Store holds the columns and tasks of one board.
type Store struct {
	mu      sync.Mutex
	board   *model.Board
	tasks   map[string]*model.Task
	undo    *snapshot
	nextTok Token
	// tasks created optimistically and not confirmed yet
	unconfirmed map[string]bool
}

// New creates a store holding board and tasks. A nil board gets the default columns.
func New(board *model.Board, tasks []*model.Task) *Store {
	s := &Store{}
	s.load(board, tasks)
	return s
}

// Load replaces the whole state, e.g. after the initial fetch.
// Any pending snapshot is discarded.
func (s *Store) Load(board *model.Board, tasks []*model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(board, tasks)
}

func (s *Store) load(board *model.Board, tasks []*model.Task) {
	if board == nil {
		board = model.NewBoard("")
	}
	s.board = board.Clone()
	if s.board.Columns == nil {
		s.board.Columns = model.DefaultColumns()
		s.board.ColumnOrder = model.DefaultColumnOrder()
	}
	s.tasks = make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		if t != nil && t.ID != "" {
			s.tasks[t.ID] = t.Clone()
		}
	}
	s.undo = nil
	s.unconfirmed = make(map[string]bool)
}

// BoardID returns the identifier of the mirrored board.
func (s *Store) BoardID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.ID
}

// Snapshot is a deep copy of the store contents.
type Snapshot struct {
	Board *model.Board
	Tasks map[string]*model.Task
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make(map[string]*model.Task, len(s.tasks))
	for id, t := range s.tasks {
		tasks[id] = t.Clone()
	}
	return Snapshot{Board: s.board.Clone(), Tasks: tasks}
}

// Task returns a copy of the task, or nil.
func (s *Store) Task(id string) *model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].Clone()
}

// Column returns a copy of the task IDs of a column, or nil if it does not exist.
func (s *Store) Column(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.board.Column(id)
	if col == nil {
		return nil
	}
	return append([]string{}, col.TaskIDs...)
}

// PendingOptimistic returns the IDs of tasks still flagged optimistic, sorted.
func (s *Store) PendingOptimistic() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, t := range s.tasks {
		if t.IsOptimistic {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// AddTask stores a confirmed task. A task not yet in any column is placed at
// the head of the column matching its status.
func (s *Store) AddTask(task *model.Task) error {
	if task == nil || task.ID == "" {
		return model.ErrTaskNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := task.Clone()
	t.IsOptimistic = false
	s.tasks[t.ID] = t
	delete(s.unconfirmed, t.ID)
	s.place(t)
	return nil
}

// UpdateTask replaces the record of a confirmed task. Column membership is
// left alone unless the task is in no column yet; moves go through MoveTask.
func (s *Store) UpdateTask(task *model.Task) error {
	if task == nil || task.ID == "" {
		return model.ErrTaskNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := task.Clone()
	t.IsOptimistic = false
	s.tasks[t.ID] = t
	delete(s.unconfirmed, t.ID)
	s.place(t)
	return nil
}

// DeleteTask removes a task and its column entry. Deleting an absent task is a no-op.
func (s *Store) DeleteTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, id)
	delete(s.unconfirmed, id)
	s.board.RemoveTask(id)
	if s.undo != nil && s.undo.taskID == id {
		s.undo.gone = true
	}
}

// MoveTask removes taskID from the source column and then inserts it at
// destIndex into the resulting destination sequence. Moving within one
// column therefore reorders in place. destIndex is clamped into range.
// The task is removed from every column first, so a replay gives the same result.
func (s *Store) MoveTask(taskID, sourceColumnID string, sourceIndex int, destColumnID string, destIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.move(taskID, destColumnID, destIndex)
}

func (s *Store) move(taskID, destColumnID string, destIndex int) error {
	dest := s.board.Column(destColumnID)
	if dest == nil {
		return model.ErrUnknownColumn
	}
	if col, _ := s.board.Locate(taskID); col == nil && s.tasks[taskID] == nil {
		return model.ErrTaskNotFound
	}

	// Membership is the source of truth, so the source column is wherever the task is now.
	s.board.RemoveTask(taskID)
	dest.TaskIDs = insertAt(dest.TaskIDs, destIndex, taskID)
	return nil
}

// OptimisticAddTask stores task flagged optimistic at the head of the column
// matching its status.
func (s *Store) OptimisticAddTask(task *model.Task) (Token, error) {
	if task == nil || task.ID == "" {
		return 0, model.ErrTaskNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tok := s.remember(task.ID, true, true)
	t := task.Clone()
	t.IsOptimistic = true
	s.tasks[t.ID] = t
	s.unconfirmed[t.ID] = true
	s.place(t)
	s.markLanded()
	return tok, nil
}

// OptimisticUpdateTask replaces the task record, flagged optimistic.
func (s *Store) OptimisticUpdateTask(task *model.Task) (Token, error) {
	if task == nil || task.ID == "" {
		return 0, model.ErrTaskNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tasks[task.ID] == nil {
		return 0, model.ErrTaskNotFound
	}
	tok := s.remember(task.ID, true, false)
	t := task.Clone()
	t.IsOptimistic = true
	s.tasks[t.ID] = t
	return tok, nil
}

// OptimisticMoveTask applies MoveTask and keeps the task's prior position.
func (s *Store) OptimisticMoveTask(taskID, sourceColumnID string, sourceIndex int, destColumnID string, destIndex int) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, prevTok := s.undo, s.nextTok
	tok := s.remember(taskID, false, true)
	if err := s.move(taskID, destColumnID, destIndex); err != nil {
		s.undo, s.nextTok = prev, prevTok
		return 0, err
	}
	s.markLanded()
	return tok, nil
}

// OptimisticDeleteTask removes the task and keeps its record and position.
func (s *Store) OptimisticDeleteTask(id string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tasks[id] == nil {
		return 0, model.ErrTaskNotFound
	}
	tok := s.remember(id, true, true)
	delete(s.tasks, id)
	s.board.RemoveTask(id)
	return tok, nil
}

// remember overwrites the snapshot with the prior state of taskID: its
// record when record is set, its column and index when position is set.
func (s *Store) remember(taskID string, record, position bool) Token {
	s.nextTok++
	snap := &snapshot{token: s.nextTok, taskID: taskID, record: record, position: position}
	if record {
		if t, ok := s.tasks[taskID]; ok {
			snap.hadTask = true
			snap.task = t.Clone()
		}
	}
	if position {
		if col, idx := s.board.Locate(taskID); col != nil {
			snap.column, snap.index = col.ID, idx
		}
	}
	s.undo = snap
	return snap.token
}

// markLanded records where the snapshot's task sits after the operation.
func (s *Store) markLanded() {
	if s.undo == nil {
		return
	}
	s.undo.landed = ""
	if col, _ := s.board.Locate(s.undo.taskID); col != nil {
		s.undo.landed = col.ID
	}
}

// Rollback restores the most recent snapshot and discards it.
// It reports whether there was one.
func (s *Store) Rollback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restore()
}

// RollbackTo restores the snapshot of tok if it is still the most recent one.
// It returns false when a later optimistic operation has overwritten it.
func (s *Store) RollbackTo(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.undo == nil || s.undo.token != tok {
		return false
	}
	return s.restore()
}

func (s *Store) restore() bool {
	snap := s.undo
	if snap == nil {
		return false
	}
	s.undo = nil
	if snap.gone {
		return true
	}
	id := snap.taskID

	if snap.record {
		if !snap.hadTask {
			delete(s.tasks, id)
			delete(s.unconfirmed, id)
			s.board.RemoveTask(id)
			return true
		}
		t := snap.task
		t.IsOptimistic = s.unconfirmed[id]
		s.tasks[id] = t
	}

	if snap.position {
		cur := ""
		if col, _ := s.board.Locate(id); col != nil {
			cur = col.ID
		}
		// A confirmed move since the operation wins over its undo.
		if cur != snap.landed {
			return true
		}
		s.board.RemoveTask(id)
		if col := s.board.Column(snap.column); col != nil {
			col.TaskIDs = insertAt(col.TaskIDs, snap.index, id)
		}
	}
	return true
}

// Settle discards the snapshot of tok once its operation is confirmed, so a
// later rollback cannot undo confirmed state. Other snapshots are kept.
func (s *Store) Settle(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.undo != nil && s.undo.token == tok {
		s.undo = nil
	}
}

// HasPending reports whether a snapshot is held.
func (s *Store) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undo != nil
}

// Abandon clears the optimistic state of a task whose operation failed after
// its snapshot was overwritten. A task that was never confirmed is removed;
// otherwise its flag is cleared. It reports whether anything changed.
func (s *Store) Abandon(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unconfirmed[taskID] {
		delete(s.unconfirmed, taskID)
		delete(s.tasks, taskID)
		s.board.RemoveTask(taskID)
		return true
	}
	if t := s.tasks[taskID]; t != nil && t.IsOptimistic {
		t.IsOptimistic = false
		return true
	}
	return false
}

// place puts a task that is in no column at the head of the column for its
// status, or of the first column when none matches.
func (s *Store) place(t *model.Task) {
	if col, _ := s.board.Locate(t.ID); col != nil {
		return
	}
	col := s.board.Column(string(t.Status))
	if col == nil {
		col = s.firstColumn()
	}
	if col == nil {
		return
	}
	col.TaskIDs = insertAt(col.TaskIDs, 0, t.ID)
}

func (s *Store) firstColumn() *model.Column {
	for _, id := range s.board.ColumnOrder {
		if col := s.board.Column(id); col != nil {
			return col
		}
	}
	if len(s.board.Columns) > 0 {
		return &s.board.Columns[0]
	}
	return nil
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
