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

// boardRow is the stored shape of a board. Columns are kept as JSON.
type boardRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Columns     string    `db:"columns"`
	ColumnOrder string    `db:"column_order"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toBoardRow(b *model.Board) (*boardRow, error) {
	cols, err := b.ColumnsToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize columns: %w", err)
	}
	order, err := b.ColumnOrderToJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize column order: %w", err)
	}
	return &boardRow{
		ID:          b.ID,
		Name:        b.Name,
		Columns:     cols,
		ColumnOrder: order,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}, nil
}

func (r *boardRow) toModel() (*model.Board, error) {
	b := &model.Board{
		ID:        r.ID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := b.ColumnsFromJSON(r.Columns); err != nil {
		return nil, fmt.Errorf("failed to parse columns: %w", err)
	}
	if err := b.ColumnOrderFromJSON(r.ColumnOrder); err != nil {
		return nil, fmt.Errorf("failed to parse column order: %w", err)
	}
	return b, nil
}

// BoardRepository provides data access for boards.
type BoardRepository struct {
	db *sqlx.DB
}

// NewBoardRepository creates a new BoardRepository.
func NewBoardRepository(db *sqlx.DB) *BoardRepository {
	return &BoardRepository{db: db}
}

// Create inserts a new board.
func (r *BoardRepository) Create(ctx context.Context, board *model.Board) error {
	row, err := toBoardRow(board)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO boards (id, name, columns, column_order, created_at, updated_at)
		VALUES (:id, :name, :columns, :column_order, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to create board: %w", err)
	}
	return nil
}

// GetByID retrieves a board by its ID.
func (r *BoardRepository) GetByID(ctx context.Context, id string) (*model.Board, error) {
	query := `
		SELECT id, name, columns, column_order, created_at, updated_at
		FROM boards
		WHERE id = ?
	`

	var row boardRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrBoardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get board: %w", err)
	}
	return row.toModel()
}

// List retrieves every board, newest first.
func (r *BoardRepository) List(ctx context.Context) ([]*model.Board, error) {
	query := `
		SELECT id, name, columns, column_order, created_at, updated_at
		FROM boards
		ORDER BY created_at DESC
	`

	var rows []boardRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}

	boards := make([]*model.Board, 0, len(rows))
	for i := range rows {
		b, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}
	return boards, nil
}

// Update stores the board's name and layout.
func (r *BoardRepository) Update(ctx context.Context, board *model.Board) error {
	row, err := toBoardRow(board)
	if err != nil {
		return err
	}

	query := `
		UPDATE boards
		SET name = :name, columns = :columns, column_order = :column_order, updated_at = :updated_at
		WHERE id = :id
	`
	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("failed to update board: %w", err)
	}
	return expectOne(result, model.ErrBoardNotFound)
}

// Delete removes a board. Its tasks go with it.
func (r *BoardRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete board: %w", err)
	}
	return expectOne(result, model.ErrBoardNotFound)
}

// Exists checks if a board exists.
func (r *BoardRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := r.db.GetContext(ctx, &exists, `SELECT 1 FROM boards WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check board existence: %w", err)
	}
	return true, nil
}

// expectOne maps zero affected rows to notFound.
func expectOne(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
