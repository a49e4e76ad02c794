package ws

import (
	"context"
	"fmt"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/internal/presence"
)

// Session binds one connection to at most one board and a participant identity.
// Its methods only apply state changes; the caller decides what to broadcast.
type Session struct {
	client      *Client
	registry    *presence.Registry
	rooms       *Rooms
	boardID     string
	participant model.Participant
	joined      bool
	closed      bool
}

// JoinResult describes an applied join.
type JoinResult struct {
	BoardID     string
	Participant model.Participant
	Roster      []model.Participant
	// Previous is set when the connection left another board to join this one.
	Previous *LeaveResult
}

// LeaveResult describes an applied leave.
type LeaveResult struct {
	BoardID     string
	Participant model.Participant
	Roster      []model.Participant
	// Removed is false when the registry had no entry for the connection.
	Removed bool
}

// NewSession creates an unbound session for client.
func NewSession(client *Client, registry *presence.Registry, rooms *Rooms) *Session {
	return &Session{
		client:   client,
		registry: registry,
		rooms:    rooms,
	}
}

// Client returns the session's connection.
func (s *Session) Client() *Client {
	return s.client
}

// ConnectionID returns the ephemeral connection identifier.
func (s *Session) ConnectionID() string {
	return s.client.ID()
}

// BoardID returns the joined board, or "".
func (s *Session) BoardID() string {
	return s.boardID
}

// Joined reports whether the session is bound to a board.
func (s *Session) Joined() bool {
	return s.joined
}

// Participant returns the identity bound on join.
func (s *Session) Participant() model.Participant {
	return s.participant
}

// Join binds the session to boardID, registers the participant and subscribes
// the connection to the board's room. A session bound to another board leaves
// it first.
func (s *Session) Join(ctx context.Context, boardID string, ud *model.UserData) (*JoinResult, error) {
	if s.closed {
		return nil, fmt.Errorf("join %s: session closed", boardID)
	}
	if boardID == "" {
		return nil, model.ErrBoardIDRequired
	}

	result := &JoinResult{BoardID: boardID}
	if s.joined && s.boardID != boardID {
		prev, err := s.Leave(ctx)
		if err != nil {
			return nil, err
		}
		result.Previous = prev
	}

	p := model.NewParticipant(s.ConnectionID(), boardID, ud)
	roster, err := s.registry.Join(ctx, boardID, p)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", boardID, err)
	}

	s.boardID = boardID
	s.participant = p
	s.joined = true
	s.rooms.Join(boardID, s.client)

	result.Participant = p
	result.Roster = roster
	return result, nil
}

// Leave unregisters the participant and unsubscribes the connection from the
// room. It returns nil when the session is not bound to a board.
// The session is unbound even when the registry fails.
func (s *Session) Leave(ctx context.Context) (*LeaveResult, error) {
	if !s.joined {
		return nil, nil
	}

	boardID := s.boardID
	p := s.participant
	s.rooms.Leave(boardID, s.client)
	s.joined = false
	s.boardID = ""

	roster, removed, err := s.registry.Leave(ctx, boardID, s.ConnectionID())
	if err != nil {
		return nil, fmt.Errorf("leave %s: %w", boardID, err)
	}
	return &LeaveResult{
		BoardID:     boardID,
		Participant: p,
		Roster:      roster,
		Removed:     removed,
	}, nil
}

// Disconnect leaves the joined board, if any, and marks the session closed.
// It is safe to call more than once and without a prior join.
func (s *Session) Disconnect(ctx context.Context) (*LeaveResult, error) {
	if s.closed {
		return nil, nil
	}
	s.closed = true
	return s.Leave(ctx)
}
