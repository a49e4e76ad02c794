package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/pkg/protocol"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("persistence circuit open")

// APIError is a non-2xx response from the board API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match a 404.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// BreakerConfig tunes the circuit breaker around the REST calls.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	MinRequests      uint32
	FailureThreshold float64
}

// DefaultBreakerConfig trips after five requests with half of them failing.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.5,
	}
}

// Client is a Persister backed by the board REST API.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  log.FieldLogger
}

var _ Persister = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	breaker    BreakerConfig
	logger     log.FieldLogger
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithBreaker replaces the default breaker settings.
func WithBreaker(cfg BreakerConfig) ClientOption {
	return func(o *clientOptions) { o.breaker = cfg }
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(l log.FieldLogger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// NewClient creates a REST client for the API rooted at baseURL,
// e.g. "http://localhost:3001".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	o := clientOptions{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    DefaultBreakerConfig(),
		logger:     log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    o.httpClient,
		logger:  o.logger,
	}
	cfg := o.breaker
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "board-api",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			// 4xx answers mean the API is healthy.
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < 500
			}
			return err == nil
		},
	})
	return c
}

// BreakerState reports the breaker state ("closed", "half-open", "open").
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func (c *Client) ListBoards(ctx context.Context) ([]*model.Board, error) {
	var out []*model.Board
	if err := c.call(ctx, "list_boards", http.MethodGet, "/api/boards", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBoard(ctx context.Context, id string) (*model.Board, error) {
	var out model.Board
	if err := c.call(ctx, "get_board", http.MethodGet, "/api/boards/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateBoard(ctx context.Context, req *model.CreateBoardRequest) (*model.Board, error) {
	var out model.Board
	if err := c.call(ctx, "create_board", http.MethodPost, "/api/boards", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteBoard(ctx context.Context, id string) error {
	return c.call(ctx, "delete_board", http.MethodDelete, "/api/boards/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListTasks(ctx context.Context, boardID string) ([]*model.Task, error) {
	path := "/api/tasks"
	if boardID != "" {
		path += "?boardId=" + url.QueryEscape(boardID)
	}
	var out []*model.Task
	if err := c.call(ctx, "list_tasks", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	var out model.Task
	if err := c.call(ctx, "create_task", http.MethodPost, "/api/tasks", wireTask(task), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	var out model.Task
	path := "/api/tasks/" + url.PathEscape(task.ID)
	if err := c.call(ctx, "update_task", http.MethodPut, path, wireTask(task), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.call(ctx, "delete_task", http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) MoveTask(ctx context.Context, req MoveRequest) (*model.Board, error) {
	var out model.Board
	path := "/api/tasks/" + url.PathEscape(req.TaskID) + "/move"
	if err := c.call(ctx, "move_task", http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// wireTask strips client-local state before a task leaves the process.
func wireTask(t *model.Task) *model.Task {
	out := t.Clone()
	out.IsOptimistic = false
	return out
}

// call runs one request through the breaker. Every failure comes back as a
// *protocol.PersistenceError.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, method, path, body, out)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return &protocol.PersistenceError{Op: op, Err: err}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}
	return apiErr
}
