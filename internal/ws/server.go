package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/internal/presence"
	"github.com/taskboard-live/backend/pkg/protocol"
)

// ErrServerClosed is returned when a connection arrives after the event loop stopped.
var ErrServerClosed = errors.New("ws: server closed")

// Config tunes the realtime server.
type Config struct {
	// SendBuffer is the outbound queue length per connection.
	SendBuffer int
	// TypingRate limits user-typing frames per connection, per second. Zero disables it.
	TypingRate float64
	// TypingBurst is the limiter burst size.
	TypingBurst int
	// StepTimeout bounds a single presence step against the registry store.
	StepTimeout time.Duration
	// QueueSize is the length of the event loop queue.
	QueueSize int
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:  defaultSendBuffer,
		TypingRate:  5,
		TypingBurst: 5,
		StepTimeout: 5 * time.Second,
		QueueSize:   1024,
	}
}

type loopEventKind int

const (
	loopConnect loopEventKind = iota
	loopFrame
	loopDisconnect
)

type loopEvent struct {
	kind   loopEventKind
	client *Client
	data   []byte
}

type handlerFunc func(ctx context.Context, sess *Session, msg *protocol.Message)

// Server owns presence and room membership for the process. Read pumps post
// connect, frame and disconnect events to one channel; Run applies them one
// at a time, so no step runs concurrently with another.
type Server struct {
	cfg      Config
	registry *presence.Registry
	rooms    *Rooms
	router   *Router
	metrics  *Metrics

	events   chan loopEvent
	done     chan struct{}
	stopOnce sync.Once

	// owned by the event loop
	sessions map[*Client]*Session
	handlers map[protocol.Event]handlerFunc
}

// NewServer creates a server. metrics and recorder may be nil.
func NewServer(cfg Config, registry *presence.Registry, metrics *Metrics, recorder Recorder) *Server {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.TypingRate > 0 && cfg.TypingBurst <= 0 {
		cfg.TypingBurst = 1
	}
	if registry == nil {
		registry = presence.NewRegistry(nil)
	}

	rooms := NewRooms()
	s := &Server{
		cfg:      cfg,
		registry: registry,
		rooms:    rooms,
		router:   NewRouter(rooms, metrics, recorder),
		metrics:  metrics,
		events:   make(chan loopEvent, cfg.QueueSize),
		done:     make(chan struct{}),
		sessions: make(map[*Client]*Session),
	}
	s.handlers = map[protocol.Event]handlerFunc{
		protocol.EventJoinBoard:      s.handleJoinBoard,
		protocol.EventLeaveBoard:     s.handleLeaveBoard,
		protocol.EventGetActiveUsers: s.handleGetActiveUsers,
		protocol.EventUserTyping:     s.handleUserTyping,
		protocol.EventTaskCreated:    s.handleMirror,
		protocol.EventTaskUpdated:    s.handleMirror,
		protocol.EventTaskDeleted:    s.handleMirror,
		protocol.EventTaskMoved:      s.handleMirror,
	}
	return s
}

// Registry returns the presence registry.
func (s *Server) Registry() *presence.Registry {
	return s.registry
}

// Rooms returns the room set.
func (s *Server) Rooms() *Rooms {
	return s.rooms
}

// NewClient creates a client with the server's buffer settings.
func (s *Server) NewClient(conn *websocket.Conn, id string) *Client {
	c := NewClient(conn, id, s.cfg.SendBuffer)
	if s.cfg.TypingRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.TypingRate), s.cfg.TypingBurst)
	}
	return c
}

// Run processes loop events until ctx is cancelled. On exit every remaining
// connection is disconnected.
func (s *Server) Run(ctx context.Context) error {
	log.Info("Realtime event loop started")
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			s.dispatch(ctx, ev)
		}
	}
}

func (s *Server) shutdown() {
	s.stopOnce.Do(func() { close(s.done) })

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StepTimeout)
	defer cancel()
	for c := range s.sessions {
		s.disconnect(ctx, c)
	}
	log.Info("Realtime event loop stopped")
}

// Connect posts a new connection to the event loop.
func (s *Server) Connect(c *Client) error {
	return s.enqueue(loopEvent{kind: loopConnect, client: c})
}

// Receive posts an inbound frame to the event loop.
func (s *Server) Receive(c *Client, data []byte) error {
	return s.enqueue(loopEvent{kind: loopFrame, client: c, data: data})
}

// Disconnect posts a transport loss to the event loop.
func (s *Server) Disconnect(c *Client) error {
	return s.enqueue(loopEvent{kind: loopDisconnect, client: c})
}

func (s *Server) enqueue(ev loopEvent) error {
	select {
	case <-s.done:
		return ErrServerClosed
	default:
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrServerClosed
	}
}

func (s *Server) dispatch(ctx context.Context, ev loopEvent) {
	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	switch ev.kind {
	case loopConnect:
		s.connect(ev.client)
	case loopFrame:
		s.receive(stepCtx, ev.client, ev.data)
	case loopDisconnect:
		s.disconnect(stepCtx, ev.client)
	}
}

// connect creates the session and sends the handshake acknowledgment.
func (s *Server) connect(c *Client) {
	if _, ok := s.sessions[c]; ok {
		return
	}
	s.sessions[c] = NewSession(c, s.registry, s.rooms)
	s.metrics.connOpened()
	s.router.ToClient(c, protocol.EventConnected, protocol.ConnectedPayload{ConnectionID: c.ID()})
	log.WithField("connection_id", c.ID()).Info("Client connected")
}

// receive decodes one frame and dispatches it to the handler for its event.
// Malformed and unknown frames are dropped; the connection stays open.
func (s *Server) receive(ctx context.Context, c *Client, data []byte) {
	sess, ok := s.sessions[c]
	if !ok {
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		s.metrics.droppedEvent(dropMalformed)
		log.WithError(err).WithField("connection_id", c.ID()).Debug("Dropped malformed frame")
		return
	}
	s.metrics.receivedEvent(string(msg.Event))

	handle, ok := s.handlers[msg.Event]
	if !ok {
		s.router.drop(sess, msg, dropUnknown)
		return
	}
	handle(ctx, sess, msg)
}

// disconnect removes the connection from its board and closes it.
// Unknown connections are ignored, so repeated calls are harmless.
func (s *Server) disconnect(ctx context.Context, c *Client) {
	sess, ok := s.sessions[c]
	if !ok {
		return
	}
	delete(s.sessions, c)

	res, err := sess.Disconnect(ctx)
	if err != nil {
		log.WithError(err).WithField("connection_id", c.ID()).Warn("Presence cleanup failed")
	}
	s.announceLeave(sess, res)

	c.Close()
	s.metrics.connClosed()
	s.metrics.setRooms(s.rooms.Count())
	log.WithField("connection_id", c.ID()).Info("Client disconnected")
}

func (s *Server) handleJoinBoard(ctx context.Context, sess *Session, msg *protocol.Message) {
	var p protocol.JoinBoardPayload
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		s.router.drop(sess, msg, dropInvalidFrame)
		return
	}
	boardID := strings.TrimSpace(p.BoardID)
	if boardID == "" {
		s.router.drop(sess, msg, dropNoBoard)
		return
	}

	res, err := sess.Join(ctx, boardID, p.UserData)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"connection_id": sess.ConnectionID(),
			"board_id":      boardID,
		}).Warn("Join failed")
		return
	}
	if res.Previous != nil {
		s.announceLeave(sess, res.Previous)
	}

	s.router.ToOthers(boardID, sess.Client(), protocol.EventUserJoined, res.Participant)
	s.router.ToRoom(boardID, protocol.EventActiveUsers, res.Roster)
	s.metrics.setRooms(s.rooms.Count())

	log.WithFields(log.Fields{
		"connection_id": sess.ConnectionID(),
		"board_id":      boardID,
		"participants":  len(res.Roster),
	}).Info("Joined board")
}

func (s *Server) handleLeaveBoard(ctx context.Context, sess *Session, msg *protocol.Message) {
	boardID := protocol.BoardIDOf(msg.Data)
	if !sess.Joined() {
		return
	}
	if boardID != "" && boardID != sess.BoardID() {
		s.router.drop(sess, msg, dropCrossBoard)
		return
	}

	res, err := sess.Leave(ctx)
	if err != nil {
		log.WithError(err).WithField("connection_id", sess.ConnectionID()).Warn("Leave failed")
	}
	s.announceLeave(sess, res)
	s.metrics.setRooms(s.rooms.Count())
}

// announceLeave tells the remaining room members about a removal.
func (s *Server) announceLeave(sess *Session, res *LeaveResult) {
	if res == nil {
		return
	}
	s.router.ToOthers(res.BoardID, sess.Client(), protocol.EventUserLeft, res.Participant)
	s.router.ToRoom(res.BoardID, protocol.EventActiveUsers, res.Roster)

	log.WithFields(log.Fields{
		"connection_id": sess.ConnectionID(),
		"board_id":      res.BoardID,
		"participants":  len(res.Roster),
	}).Info("Left board")
}

// handleGetActiveUsers replies to the caller only. A request without a board
// ID reads the caller's own board.
func (s *Server) handleGetActiveUsers(ctx context.Context, sess *Session, msg *protocol.Message) {
	boardID := protocol.BoardIDOf(msg.Data)
	if boardID == "" {
		boardID = sess.BoardID()
	}

	roster := []model.Participant{}
	if boardID != "" {
		got, err := s.registry.Get(ctx, boardID)
		if err != nil {
			log.WithError(err).WithField("board_id", boardID).Warn("Roster read failed")
		} else {
			roster = got
		}
	}
	s.router.ToClient(sess.Client(), protocol.EventActiveUsers, roster)
}

func (s *Server) handleUserTyping(_ context.Context, sess *Session, msg *protocol.Message) {
	if !sess.Client().Allow() {
		s.router.drop(sess, msg, dropRateLimited)
		return
	}
	s.router.Mirror(sess, msg)
}

func (s *Server) handleMirror(_ context.Context, sess *Session, msg *protocol.Message) {
	s.router.Mirror(sess, msg)
}
