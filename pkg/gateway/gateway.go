// Package gateway connects a board client to the realtime server.
//
// A Gateway owns the websocket connection, a boardstate.Store mirroring the
// joined board, and a notify.Center. Local mutations are applied
// optimistically, sent to the room, and persisted in the background; the
// persistence outcome confirms or rolls back the optimistic change. Frames
// from other participants are applied as confirmed state.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/pkg/boardstate"
	"github.com/taskboard-live/backend/pkg/notify"
	"github.com/taskboard-live/backend/pkg/persist"
	"github.com/taskboard-live/backend/pkg/protocol"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

var (
	// ErrNotConnected is returned when a frame is sent without a live connection.
	ErrNotConnected = errors.New("gateway: not connected")
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("gateway: closed")
	// ErrHandshake is returned when the server does not acknowledge the connection.
	ErrHandshake = errors.New("gateway: handshake not acknowledged")
)

const writeWait = 10 * time.Second

// Config holds the connection settings.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:3001/ws.
	URL string
	// UserData identifies the user on join. Nil joins anonymously.
	UserData *model.UserData
	// MaxAttempts is the reconnect budget, spent after a lost connection
	// and after a failed first dial. Zero disables reconnecting.
	MaxAttempts int
	// InitialInterval and MaxInterval bound the reconnect delay.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// HandshakeTimeout bounds the dial and the wait for the server hello.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the reconnect policy of the web client.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		MaxAttempts:      5,
		InitialInterval:  time.Second,
		MaxInterval:      5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithNotifications sets the notification center.
func WithNotifications(c *notify.Center) Option {
	return func(g *Gateway) { g.notes = c }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(g *Gateway) { g.dialer = d }
}

// WithStatusListener is called on every status change.
func WithStatusListener(fn func(Status)) Option {
	return func(g *Gateway) { g.onStatus = append(g.onStatus, fn) }
}

// WithRosterListener is called with every active-users roster received.
func WithRosterListener(fn func([]model.Participant)) Option {
	return func(g *Gateway) { g.onRoster = append(g.onRoster, fn) }
}

// WithTypingListener is called when another participant is typing.
func WithTypingListener(fn func(model.Participant)) Option {
	return func(g *Gateway) { g.onTyping = append(g.onTyping, fn) }
}

// WithEventListener is called with every inbound frame after it is applied.
func WithEventListener(fn func(*protocol.Message)) Option {
	return func(g *Gateway) { g.onEvent = append(g.onEvent, fn) }
}

// Gateway is the client side of board synchronization.
type Gateway struct {
	cfg       Config
	store     *boardstate.Store
	persister persist.Persister
	notes     *notify.Center
	dialer    *websocket.Dialer
	logger    log.FieldLogger

	onStatus []func(Status)
	onRoster []func([]model.Participant)
	onTyping []func(model.Participant)
	onEvent  []func(*protocol.Message)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	conn         *websocket.Conn
	status       Status
	connectionID string
	boardID      string
	roster       []model.Participant
	closed       bool

	writeMu  sync.Mutex
	inflight sync.WaitGroup
}

// New creates a disconnected gateway that persists through p.
func New(cfg Config, p persist.Persister, opts ...Option) *Gateway {
	if p == nil {
		p = persist.NewMemory()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:       cfg,
		store:     boardstate.New(nil, nil),
		persister: p,
		notes:     notify.NewCenter(),
		dialer:    websocket.DefaultDialer,
		logger:    log.StandardLogger(),
		status:    StatusDisconnected,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Store returns the board state mirror.
func (g *Gateway) Store() *boardstate.Store { return g.store }

// Notifications returns the notification center.
func (g *Gateway) Notifications() *notify.Center { return g.notes }

// Status returns the connection state.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// ConnectionID returns the server-assigned ID of the current connection.
// It changes on every reconnect.
func (g *Gateway) ConnectionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connectionID
}

// BoardID returns the board last joined, or "".
func (g *Gateway) BoardID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.boardID
}

// Roster returns the last roster received for the joined board.
func (g *Gateway) Roster() []model.Participant {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Participant{}, g.roster...)
}

// Connect dials the server and waits for its hello. A failed first dial is
// retried with the reconnect budget; once that runs out the status becomes
// error and a *protocol.TransportError is returned.
func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.status == StatusConnected || g.status == StatusConnecting {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	g.setStatus(StatusConnecting)
	conn, connID, err := g.dial(ctx)
	if err == nil {
		g.attach(conn, connID)
		return nil
	}
	g.logger.WithError(err).Warn("Failed to connect to board server")
	g.notes.Notify(notify.Error, "Connection error: "+err.Error(), 5*time.Second)

	attempt := 1
	if g.cfg.MaxAttempts > 0 {
		// Close cancels the retries as well as the caller.
		rctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(g.ctx, cancel)
		defer stop()

		conn, connID, attempt, err = g.redial(rctx)
	}
	if err != nil {
		if g.ctx.Err() != nil {
			return ErrClosed
		}
		g.setStatus(StatusError)
		g.notes.Notify(notify.Error, "Failed to reconnect to server", 10*time.Second)
		return &protocol.TransportError{Op: "connect", Attempt: attempt, Err: err}
	}
	g.attach(conn, connID)
	return nil
}

// dial opens a connection and reads the server hello.
func (g *Gateway) dial(ctx context.Context) (*websocket.Conn, string, error) {
	timeout := g.cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := g.dialer.DialContext(dctx, g.cfg.URL, nil)
	if err != nil {
		return nil, "", err
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	msg, err := protocol.Decode(frame)
	if err != nil || msg.Event != protocol.EventConnected {
		conn.Close()
		return nil, "", ErrHandshake
	}
	var hello protocol.ConnectedPayload
	if err := decodeData(msg, &hello); err != nil || hello.ConnectionID == "" {
		conn.Close()
		return nil, "", ErrHandshake
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, hello.ConnectionID, nil
}

// attach makes conn the live connection, re-joins the last board and
// starts reading.
func (g *Gateway) attach(conn *websocket.Conn, connID string) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		conn.Close()
		return
	}
	g.conn = conn
	g.connectionID = connID
	boardID := g.boardID
	g.mu.Unlock()

	g.setStatus(StatusConnected)
	g.notes.Notify(notify.Success, "Connected to server", 3*time.Second)
	g.logger.WithField("connection_id", connID).Info("Connected to board server")

	if boardID != "" {
		if err := g.sendJoin(boardID); err != nil {
			g.logger.WithError(err).Warn("Failed to re-join board")
		}
		if err := g.send(protocol.EventGetActiveUsers, protocol.BoardRef{BoardID: boardID}); err != nil {
			g.logger.WithError(err).Warn("Failed to request active users")
		}
	}

	go g.readLoop(conn)
}

func (g *Gateway) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			g.lost(conn, err)
			return
		}
		g.handleFrame(frame)
	}
}

// lost handles the end of conn. Unless the gateway was closed it reports
// the disconnect and starts reconnecting.
func (g *Gateway) lost(conn *websocket.Conn, cause error) {
	g.mu.Lock()
	if g.conn != conn {
		g.mu.Unlock()
		return
	}
	g.conn = nil
	closed := g.closed
	g.mu.Unlock()
	conn.Close()

	if closed {
		return
	}
	g.logger.WithError(cause).Warn("Disconnected from board server")
	g.setStatus(StatusDisconnected)
	g.notes.Notify(notify.Warning, "Disconnected from server", 0)

	if g.cfg.MaxAttempts > 0 {
		g.reconnect()
	}
}

// reconnect retries with exponential backoff until the budget runs out.
func (g *Gateway) reconnect() {
	conn, connID, attempt, err := g.redial(g.ctx)
	if err != nil {
		if g.ctx.Err() != nil {
			return
		}
		g.setStatus(StatusError)
		g.notes.Notify(notify.Error, "Failed to reconnect to server", 10*time.Second)
		g.logger.WithError(&protocol.TransportError{Op: "reconnect", Attempt: attempt, Err: err}).
			Error("Reconnect budget exhausted")
		return
	}
	g.attach(conn, connID)
}

// redial spends the reconnect budget on dial attempts spaced by exponential
// backoff. It returns the number of attempts made.
func (g *Gateway) redial(ctx context.Context) (*websocket.Conn, string, int, error) {
	budget := g.cfg.MaxAttempts
	policy := backoff.NewExponentialBackOff()
	if g.cfg.InitialInterval > 0 {
		policy.InitialInterval = g.cfg.InitialInterval
	}
	if g.cfg.MaxInterval > 0 {
		policy.MaxInterval = g.cfg.MaxInterval
	}
	policy.MaxElapsedTime = 0
	policy.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(budget-1)), ctx)

	attempt := 0
	var (
		conn   *websocket.Conn
		connID string
	)
	op := func() error {
		attempt++
		g.setStatus(StatusConnecting)
		g.notes.Notify(notify.Info, fmt.Sprintf("Attempting to reconnect (%d/%d)...", attempt, budget), 2*time.Second)

		c, id, err := g.dial(ctx)
		if err != nil {
			g.logger.WithError(err).WithField("attempt", attempt).Debug("Reconnect attempt failed")
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		conn, connID = c, id
		return nil
	}
	if err := backoff.Retry(op, b); err != nil {
		return nil, "", attempt, err
	}
	return conn, connID, attempt, nil
}

// Close disconnects without reconnecting and waits for in-flight
// persistence calls to finish.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()

	g.cancel()
	var err error
	if conn != nil {
		g.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		g.writeMu.Unlock()
		err = conn.Close()
	}
	g.setStatus(StatusDisconnected)
	g.inflight.Wait()
	return err
}

// Wait blocks until every in-flight persistence call has been confirmed or
// rolled back.
func (g *Gateway) Wait() {
	g.inflight.Wait()
}

func (g *Gateway) setStatus(s Status) {
	g.mu.Lock()
	if g.status == s {
		g.mu.Unlock()
		return
	}
	g.status = s
	g.mu.Unlock()

	for _, fn := range g.onStatus {
		fn(s)
	}
}

// send writes one frame to the live connection.
func (g *Gateway) send(event protocol.Event, payload any) error {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}

	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return &protocol.TransportError{Op: "send", Err: ErrNotConnected}
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return &protocol.TransportError{Op: "send", Err: err}
	}
	return nil
}

func (g *Gateway) sendJoin(boardID string) error {
	return g.send(protocol.EventJoinBoard, protocol.JoinBoardPayload{
		BoardID:  boardID,
		UserData: g.cfg.UserData,
	})
}

// JoinBoard loads boardID from the persistence store into the local mirror
// and joins its room. A load failure leaves the current board untouched.
func (g *Gateway) JoinBoard(ctx context.Context, boardID string) error {
	if boardID == "" {
		return &protocol.ValidationError{Field: "boardId", Err: model.ErrBoardIDRequired}
	}
	board, err := g.persister.GetBoard(ctx, boardID)
	if err != nil {
		return err
	}
	tasks, err := g.persister.ListTasks(ctx, boardID)
	if err != nil {
		return err
	}
	g.store.Load(board, tasks)

	g.mu.Lock()
	g.boardID = boardID
	g.roster = nil
	g.mu.Unlock()

	if err := g.sendJoin(boardID); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// LeaveBoard leaves the joined board's room. The local mirror is kept.
func (g *Gateway) LeaveBoard() error {
	g.mu.Lock()
	boardID := g.boardID
	g.boardID = ""
	g.roster = nil
	g.mu.Unlock()

	if boardID == "" {
		return nil
	}
	return g.send(protocol.EventLeaveBoard, protocol.BoardRef{BoardID: boardID})
}

// RequestActiveUsers asks the server for the joined board's roster. The
// answer arrives through the roster listeners.
func (g *Gateway) RequestActiveUsers() error {
	boardID := g.BoardID()
	if boardID == "" {
		return &protocol.ValidationError{Field: "boardId", Err: model.ErrBoardIDRequired}
	}
	return g.send(protocol.EventGetActiveUsers, protocol.BoardRef{BoardID: boardID})
}

// Typing tells the other participants that this user is typing.
func (g *Gateway) Typing() error {
	boardID := g.BoardID()
	if boardID == "" {
		return &protocol.ValidationError{Field: "boardId", Err: model.ErrBoardIDRequired}
	}
	return g.send(protocol.EventUserTyping, protocol.BoardRef{BoardID: boardID})
}
