package model

import "errors"

var (
	// ErrTitleRequired is returned when a task is missing its title.
	ErrTitleRequired = errors.New("title is required")

	// ErrNameRequired is returned when a board creation request is missing the name.
	ErrNameRequired = errors.New("name is required")

	// ErrBoardIDRequired is returned when an operation does not name its board.
	ErrBoardIDRequired = errors.New("board id is required")

	// ErrInvalidStatus is returned for a task status outside the known set.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrInvalidPriority is returned for a task priority outside the known set.
	ErrInvalidPriority = errors.New("invalid task priority")

	// ErrColumnIDRequired is returned when a column has no identifier.
	ErrColumnIDRequired = errors.New("column id is required")

	// ErrDuplicateColumn is returned when two columns share an identifier.
	ErrDuplicateColumn = errors.New("duplicate column id")

	// ErrUnknownColumn is returned when a column order or move names a missing column.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrTaskInManyColumns is returned when a layout lists a task in more than one column.
	ErrTaskInManyColumns = errors.New("task appears in more than one column")

	// ErrBoardNotFound is returned when a board is not found.
	ErrBoardNotFound = errors.New("board not found")

	// ErrTaskNotFound is returned when a task is not found.
	ErrTaskNotFound = errors.New("task not found")
)
