package ws

import (
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/taskboard-live/backend/pkg/protocol"
)

// Recorder receives every event the router fans out to a room.
type Recorder interface {
	Record(boardID, event, connectionID string, data []byte) error
}

// Router fans events out to board rooms. Mirrored events go to every member
// except the sender; roster events go to the whole room.
type Router struct {
	rooms    *Rooms
	metrics  *Metrics
	recorder Recorder
}

// NewRouter creates a router over rooms. metrics and recorder may be nil.
func NewRouter(rooms *Rooms, metrics *Metrics, recorder Recorder) *Router {
	return &Router{
		rooms:    rooms,
		metrics:  metrics,
		recorder: recorder,
	}
}

// ToOthers sends event to every member of boardID's room except sender.
// It returns the number of recipients.
func (r *Router) ToOthers(boardID string, sender *Client, event protocol.Event, payload any) int {
	return r.fanOut(boardID, sender, event, payload)
}

// ToRoom sends event to every member of boardID's room, sender included.
func (r *Router) ToRoom(boardID string, event protocol.Event, payload any) int {
	return r.fanOut(boardID, nil, event, payload)
}

// ToClient sends event to a single connection.
func (r *Router) ToClient(c *Client, event protocol.Event, payload any) bool {
	frame, _, err := encode(event, payload)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("Failed to encode frame")
		return false
	}
	c.Send(frame)
	return true
}

func (r *Router) fanOut(boardID string, except *Client, event protocol.Event, payload any) int {
	room := r.rooms.Get(boardID)
	if room == nil {
		return 0
	}

	frame, data, err := encode(event, payload)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("Failed to encode frame")
		return 0
	}

	n := room.Broadcast(frame, except)
	r.metrics.relayedEvent(string(event))

	if r.recorder != nil {
		connID := ""
		if except != nil {
			connID = except.ID()
		}
		if err := r.recorder.Record(boardID, string(event), connID, data); err != nil {
			log.WithError(err).WithField("board_id", boardID).Warn("Failed to journal event")
		}
	}
	return n
}

// Mirror relays a task mutation or typing event from sess to the other
// members of its room, translating the event name for the relay.
// Events without a board ID, or naming a board other than the one the
// sender joined, are dropped. It returns the drop reason, or "" once relayed.
func (r *Router) Mirror(sess *Session, msg *protocol.Message) string {
	boardID := protocol.BoardIDOf(msg.Data)
	if boardID == "" {
		return r.drop(sess, msg, dropNoBoard)
	}
	if !sess.Joined() {
		return r.drop(sess, msg, dropNotJoined)
	}
	if boardID != sess.BoardID() {
		return r.drop(sess, msg, dropCrossBoard)
	}

	out, payload, ok := relayOf(sess, msg)
	if !ok {
		return r.drop(sess, msg, dropInvalidFrame)
	}

	r.ToOthers(boardID, sess.Client(), out, payload)
	return ""
}

// relayOf maps an inbound mirrored event to its relay name and payload.
func relayOf(sess *Session, msg *protocol.Message) (protocol.Event, any, bool) {
	switch msg.Event {
	case protocol.EventTaskCreated, protocol.EventTaskUpdated:
		var p protocol.TaskPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.Task == nil {
			return "", nil, false
		}
		if msg.Event == protocol.EventTaskCreated {
			return protocol.EventNewTask, p.Task, true
		}
		return protocol.EventUpdateTask, p.Task, true

	case protocol.EventTaskDeleted:
		var p protocol.TaskDeletedPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.TaskID == "" {
			return "", nil, false
		}
		return protocol.EventDeleteTask, p.TaskID, true

	case protocol.EventTaskMoved:
		var p protocol.TaskMovedPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil || p.TaskID == "" {
			return "", nil, false
		}
		p.BoardID = ""
		return protocol.EventTaskUpdated, p, true

	case protocol.EventUserTyping:
		return protocol.EventUserTyping, sess.Participant(), true
	}
	return "", nil, false
}

func (r *Router) drop(sess *Session, msg *protocol.Message, reason string) string {
	r.metrics.droppedEvent(reason)
	log.WithFields(log.Fields{
		"connection_id": sess.ConnectionID(),
		"board_id":      sess.BoardID(),
		"event":         msg.Event,
		"reason":        reason,
	}).Debug("Dropped event")
	return reason
}

// encode builds a frame and returns the encoded payload alongside it.
func encode(event protocol.Event, payload any) ([]byte, json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	frame, err := protocol.Encode(event, json.RawMessage(data))
	if err != nil {
		return nil, nil, err
	}
	return frame, data, nil
}
