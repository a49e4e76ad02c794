package gateway

import (
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/pkg/notify"
	"github.com/taskboard-live/backend/pkg/protocol"
)

var errNoData = errors.New("frame has no data")

func decodeData(msg *protocol.Message, v any) error {
	if len(msg.Data) == 0 {
		return errNoData
	}
	return json.Unmarshal(msg.Data, v)
}

// handleFrame applies one frame from the server. Other participants'
// changes are confirmed state.
func (g *Gateway) handleFrame(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		g.logger.WithError(err).Debug("Dropped malformed frame")
		return
	}
	entry := g.logger.WithField("event", msg.Event)

	if err := g.apply(msg); err != nil {
		entry.WithError(err).Debug("Failed to apply frame")
		return
	}
	for _, fn := range g.onEvent {
		fn(msg)
	}
}

func (g *Gateway) apply(msg *protocol.Message) error {
	switch msg.Event {
	case protocol.EventNewTask:
		var t model.Task
		if err := decodeData(msg, &t); err != nil {
			return err
		}
		if err := g.store.AddTask(&t); err != nil {
			return err
		}
		g.notes.Notify(notify.Info, "New task added: "+t.Title, 5*time.Second)

	case protocol.EventUpdateTask:
		var t model.Task
		if err := decodeData(msg, &t); err != nil {
			return err
		}
		if err := g.store.UpdateTask(&t); err != nil {
			return err
		}
		g.notes.Notify(notify.Info, "Task updated: "+t.Title, 3*time.Second)

	case protocol.EventDeleteTask:
		var id string
		if err := decodeData(msg, &id); err != nil {
			return err
		}
		g.store.DeleteTask(id)
		g.notes.Notify(notify.Info, "Task deleted", 0)

	case protocol.EventTaskUpdated:
		// Relay of another participant's task-moved.
		var p protocol.TaskMovedPayload
		if err := decodeData(msg, &p); err != nil {
			return err
		}
		if err := g.store.MoveTask(p.TaskID, p.Source.DroppableID, p.Source.Index, p.Destination.DroppableID, p.Destination.Index); err != nil {
			return err
		}
		g.notes.Notify(notify.Info, "Task moved by another user", 0)

	case protocol.EventActiveUsers:
		var roster []model.Participant
		if err := decodeData(msg, &roster); err != nil {
			return err
		}
		if roster == nil {
			roster = []model.Participant{}
		}
		g.mu.Lock()
		g.roster = roster
		g.mu.Unlock()
		for _, fn := range g.onRoster {
			fn(append([]model.Participant(nil), roster...))
		}

	case protocol.EventUserJoined:
		var p model.Participant
		if err := decodeData(msg, &p); err != nil {
			return err
		}
		g.notes.Notify(notify.Info, p.Name+" joined the board", 0)

	case protocol.EventUserLeft:
		var p model.Participant
		if err := decodeData(msg, &p); err != nil {
			return err
		}
		g.notes.Notify(notify.Info, p.Name+" left the board", 0)

	case protocol.EventUserTyping:
		var p model.Participant
		if err := decodeData(msg, &p); err != nil {
			return err
		}
		for _, fn := range g.onTyping {
			fn(p)
		}

	case protocol.EventConnected:
		// Hello already consumed by the handshake.

	default:
		g.logger.WithFields(log.Fields{"event": msg.Event}).Debug("Ignored unknown event")
	}
	return nil
}
