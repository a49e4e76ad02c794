package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/pkg/boardstate"
	"github.com/taskboard-live/backend/pkg/notify"
	"github.com/taskboard-live/backend/pkg/persist"
	"github.com/taskboard-live/backend/pkg/protocol"
)

// mutation is the notification text of one kind of local change.
type mutation struct {
	pending string
	success string
	failure string
}

var (
	addMutation    = mutation{"Adding task...", "Task added successfully!", "Failed to add task: "}
	updateMutation = mutation{"Updating task...", "Task updated successfully!", "Failed to update task: "}
	moveMutation   = mutation{"Moving task...", "Task moved successfully!", "Failed to move task: "}
	deleteMutation = mutation{"Deleting task...", "Task deleted successfully!", "Failed to delete task: "}
)

// CreateTask adds task to the joined board. The task is visible in the
// store at once, flagged optimistic, and is confirmed or removed once the
// persistence store answers. It returns the optimistic record.
func (g *Gateway) CreateTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	boardID, err := g.requireBoard()
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, &protocol.ValidationError{Field: "task", Err: model.ErrTitleRequired}
	}
	t := task.Clone()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.BoardID = boardID
	t.ApplyDefaults()
	if err := t.Validate(); err != nil {
		return nil, &protocol.ValidationError{Field: "task", Err: err}
	}

	tok, err := g.store.OptimisticAddTask(t)
	if err != nil {
		return nil, err
	}
	optimistic := g.store.Task(t.ID)
	note := g.notes.Notify(notify.Info, addMutation.pending, 0)
	g.broadcast(protocol.EventTaskCreated, protocol.TaskPayload{BoardID: boardID, Task: wireTask(t)})

	g.persist(ctx, addMutation, note.ID, tok, t.ID, func(ctx context.Context) error {
		saved, err := g.persister.CreateTask(ctx, t)
		if err != nil {
			return err
		}
		if saved.ID != t.ID {
			g.store.DeleteTask(t.ID)
		}
		return g.store.AddTask(saved)
	})
	return optimistic, nil
}

// UpdateTask replaces an existing task's fields. Column membership is not
// changed; use MoveTask for that.
func (g *Gateway) UpdateTask(ctx context.Context, task *model.Task) error {
	boardID, err := g.requireBoard()
	if err != nil {
		return err
	}
	if task == nil || task.ID == "" {
		return &protocol.ValidationError{Field: "id", Err: model.ErrTaskNotFound}
	}
	t := task.Clone()
	t.BoardID = boardID
	if err := t.Validate(); err != nil {
		return &protocol.ValidationError{Field: "task", Err: err}
	}

	tok, err := g.store.OptimisticUpdateTask(t)
	if err != nil {
		return &protocol.ValidationError{Field: "id", Err: err}
	}
	note := g.notes.Notify(notify.Info, updateMutation.pending, 0)
	g.broadcast(protocol.EventTaskUpdated, protocol.TaskPayload{BoardID: boardID, Task: wireTask(t)})

	g.persist(ctx, updateMutation, note.ID, tok, t.ID, func(ctx context.Context) error {
		saved, err := g.persister.UpdateTask(ctx, t)
		if err != nil {
			return err
		}
		return g.store.UpdateTask(saved)
	})
	return nil
}

// MoveTask moves a task between or within columns, in drag-and-drop terms.
func (g *Gateway) MoveTask(ctx context.Context, taskID string, source, destination protocol.Location) error {
	boardID, err := g.requireBoard()
	if err != nil {
		return err
	}
	if taskID == "" {
		return &protocol.ValidationError{Field: "taskId", Err: model.ErrTaskNotFound}
	}

	tok, err := g.store.OptimisticMoveTask(taskID, source.DroppableID, source.Index, destination.DroppableID, destination.Index)
	if err != nil {
		return &protocol.ValidationError{Field: "destination", Err: err}
	}
	note := g.notes.Notify(notify.Info, moveMutation.pending, 0)
	g.broadcast(protocol.EventTaskMoved, protocol.TaskMovedPayload{
		BoardID:     boardID,
		Source:      source,
		Destination: destination,
		TaskID:      taskID,
	})

	g.persist(ctx, moveMutation, note.ID, tok, taskID, func(ctx context.Context) error {
		// Already applied locally. Confirming only settles, so a remote move
		// received in the meantime stands.
		_, err := g.persister.MoveTask(ctx, persist.MoveRequest{
			BoardID:     boardID,
			TaskID:      taskID,
			SourceID:    source.DroppableID,
			SourceIndex: source.Index,
			DestID:      destination.DroppableID,
			DestIndex:   destination.Index,
		})
		return err
	})
	return nil
}

// DeleteTask removes a task from the joined board.
func (g *Gateway) DeleteTask(ctx context.Context, taskID string) error {
	boardID, err := g.requireBoard()
	if err != nil {
		return err
	}
	if taskID == "" {
		return &protocol.ValidationError{Field: "taskId", Err: model.ErrTaskNotFound}
	}

	tok, err := g.store.OptimisticDeleteTask(taskID)
	if err != nil {
		return &protocol.ValidationError{Field: "taskId", Err: err}
	}
	note := g.notes.Notify(notify.Info, deleteMutation.pending, 0)
	g.broadcast(protocol.EventTaskDeleted, protocol.TaskDeletedPayload{BoardID: boardID, TaskID: taskID})

	g.persist(ctx, deleteMutation, note.ID, tok, taskID, func(ctx context.Context) error {
		if err := g.persister.DeleteTask(ctx, taskID); err != nil {
			return err
		}
		g.store.DeleteTask(taskID)
		return nil
	})
	return nil
}

func (g *Gateway) requireBoard() (string, error) {
	boardID := g.BoardID()
	if boardID == "" {
		return "", &protocol.ValidationError{Field: "boardId", Err: model.ErrBoardIDRequired}
	}
	return boardID, nil
}

// broadcast sends a mutation to the room. The change is persisted even when
// the frame cannot be sent.
func (g *Gateway) broadcast(event protocol.Event, payload any) {
	if err := g.send(event, payload); err != nil {
		g.logger.WithError(err).WithField("event", event).Warn("Failed to send mutation")
	}
}

// persist runs call in the background. On success the optimistic snapshot
// is settled; on failure it is rolled back. The pending notification is
// replaced by the outcome.
func (g *Gateway) persist(ctx context.Context, m mutation, noteID string, tok boardstate.Token, taskID string, call func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()

		err := call(ctx)
		if err == nil {
			g.store.Settle(tok)
			g.notes.Add(notify.Notification{ID: noteID, Type: notify.Success, Message: m.success})
			return
		}

		if !g.store.RollbackTo(tok) {
			// A later optimistic change replaced this snapshot.
			g.store.Abandon(taskID)
		}
		var perr *protocol.PersistenceError
		if !errors.As(err, &perr) {
			err = &protocol.PersistenceError{Op: "confirm", Err: err}
		}
		g.logger.WithError(err).WithField("task_id", taskID).Warn("Rolled back optimistic change")
		g.notes.Add(notify.Notification{ID: noteID, Type: notify.Error, Message: m.failure + errMessage(err)})
	}()
}

// errMessage returns the innermost message for display.
func errMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func wireTask(t *model.Task) *model.Task {
	out := t.Clone()
	out.IsOptimistic = false
	return out
}
