package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/taskboard-live/backend/internal/model"
)

type taskRow struct {
	ID          string    `db:"id"`
	BoardID     string    `db:"board_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	Status      string    `db:"status"`
	Priority    string    `db:"priority"`
	Assignee    string    `db:"assignee"`
	Tags        string    `db:"tags"`
	Position    int       `db:"position"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toTaskRow(t *model.Task) (*taskRow, error) {
	tags, err := t.TagsToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize tags: %w", err)
	}
	return &taskRow{
		ID:          t.ID,
		BoardID:     t.BoardID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		Assignee:    t.Assignee,
		Tags:        tags,
		Position:    t.Position,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

func (r *taskRow) toModel() (*model.Task, error) {
	t := &model.Task{
		ID:          r.ID,
		BoardID:     r.BoardID,
		Title:       r.Title,
		Description: r.Description,
		Status:      model.TaskStatus(r.Status),
		Priority:    model.TaskPriority(r.Priority),
		Assignee:    r.Assignee,
		Position:    r.Position,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := t.TagsFromJSON(r.Tags); err != nil {
		return nil, fmt.Errorf("failed to parse tags: %w", err)
	}
	return t, nil
}

const taskColumns = `id, board_id, title, description, status, priority, assignee, tags, position, created_at, updated_at`

// TaskRepository provides data access for tasks.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create inserts a new task.
func (r *TaskRepository) Create(ctx context.Context, task *model.Task) error {
	row, err := toTaskRow(task)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (:id, :board_id, :title, :description, :status, :priority, :assignee, :tags, :position, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by its ID.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*model.Task, error) {
	var row taskRow
	err := r.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return row.toModel()
}

// List retrieves the tasks of a board, or of every board when boardID is empty.
func (r *TaskRepository) List(ctx context.Context, boardID string) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}
	if boardID != "" {
		query += ` WHERE board_id = ?`
		args = append(args, boardID)
	}
	query += ` ORDER BY position ASC, created_at ASC`

	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	tasks := make([]*model.Task, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Update stores every mutable field of a task.
func (r *TaskRepository) Update(ctx context.Context, task *model.Task) error {
	row, err := toTaskRow(task)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks
		SET title = :title, description = :description, status = :status, priority = :priority,
			assignee = :assignee, tags = :tags, position = :position, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return expectOne(result, model.ErrTaskNotFound)
}

// UpdateStatus changes the status of a task.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error {
	query := `
		UPDATE tasks
		SET status = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return expectOne(result, model.ErrTaskNotFound)
}

// Delete removes a task.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return expectOne(result, model.ErrTaskNotFound)
}

// CountByBoard returns the number of tasks on a board.
func (r *TaskRepository) CountByBoard(ctx context.Context, boardID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM tasks WHERE board_id = ?`, boardID); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}
