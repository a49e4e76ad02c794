// Package protocol defines the websocket wire format shared by the board
// server and the client SDK.
//
// Every frame is a JSON envelope {"event": "<name>", "data": <payload>}.
// Event names are part of the compatibility contract with existing peers,
// including the asymmetric relay of "task-moved" as "task-updated".
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/taskboard-live/backend/internal/model"
)

// Re-export domain types for SDK users.
type (
	Board       = model.Board
	Column      = model.Column
	Task        = model.Task
	TaskStatus  = model.TaskStatus
	Participant = model.Participant
	UserData    = model.UserData
)

// Event is the name of a wire event.
type Event string

const (
	// Client -> Server
	EventJoinBoard      Event = "join-board"
	EventLeaveBoard     Event = "leave-board"
	EventGetActiveUsers Event = "get-active-users"
	EventUserTyping     Event = "user-typing"
	EventTaskCreated    Event = "task-created"
	EventTaskUpdated    Event = "task-updated" // also the relay name of task-moved
	EventTaskDeleted    Event = "task-deleted"
	EventTaskMoved      Event = "task-moved"

	// Server -> Client
	EventConnected   Event = "connected"
	EventUserJoined  Event = "user-joined"
	EventUserLeft    Event = "user-left"
	EventActiveUsers Event = "active-users"
	EventNewTask     Event = "new-task"
	EventUpdateTask  Event = "update-task"
	EventDeleteTask  Event = "delete-task"
)

// Message is a wire frame.
type Message struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a frame for event carrying data.
func Encode(event Event, data any) ([]byte, error) {
	msg := Message{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// Decode parses a frame. The payload is left raw for the per-event handler.
func Decode(frame []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, err
	}
	if msg.Event == "" {
		return nil, ErrMissingEvent
	}
	return &msg, nil
}

// Location is a position inside a column, in drag-and-drop terms.
type Location struct {
	DroppableID string `json:"droppableId"`
	Index       int    `json:"index"`
}

// ConnectedPayload is the server hello; it acknowledges the handshake.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// JoinBoardPayload is sent with join-board.
type JoinBoardPayload struct {
	BoardID  string          `json:"boardId"`
	UserData *model.UserData `json:"userData,omitempty"`
}

// BoardRef is the payload of leave-board, get-active-users and user-typing.
type BoardRef struct {
	BoardID string `json:"boardId"`
}

// TaskPayload is sent with task-created and task-updated.
type TaskPayload struct {
	BoardID string      `json:"boardId"`
	Task    *model.Task `json:"task"`
}

// TaskDeletedPayload is sent with task-deleted.
type TaskDeletedPayload struct {
	BoardID string `json:"boardId"`
	TaskID  string `json:"taskId"`
}

// TaskMovedPayload is sent with task-moved and relayed as task-updated.
type TaskMovedPayload struct {
	BoardID     string   `json:"boardId,omitempty"`
	Source      Location `json:"source"`
	Destination Location `json:"destination"`
	TaskID      string   `json:"taskId"`
}

// BoardIDOf extracts the board identifier from any inbound payload.
// It accepts both {"boardId": "..."} and a bare JSON string, which older
// clients send with get-active-users. It returns "" when none is present.
func BoardIDOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var ref BoardRef
	if err := json.Unmarshal(raw, &ref); err == nil {
		return strings.TrimSpace(ref.BoardID)
	}
	var bare string
	if err := json.Unmarshal(raw, &bare); err == nil {
		return strings.TrimSpace(bare)
	}
	return ""
}
