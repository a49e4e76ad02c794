// Package journal records relayed room events as JSON lines, one file per board.
//
// Each file starts with a header line followed by one entry per relayed event:
//
//	{"version":1,"boardId":"b1","timestamp":1700000000}
//	[0.512,"task-moved","c7d1...",{"boardId":"b1",...}]
package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Header is the first line of a board journal.
type Header struct {
	Version   int    `json:"version"`
	BoardID   string `json:"boardId"`
	Timestamp int64  `json:"timestamp"`
}

// Entry is one relayed event.
// Format: [time_offset, event, connection_id, data]
type Entry struct {
	TimeOffset   float64
	Event        string
	ConnectionID string
	Data         json.RawMessage
}

// MarshalJSON encodes the entry as a four element array.
func (e Entry) MarshalJSON() ([]byte, error) {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return json.Marshal([]interface{}{e.TimeOffset, e.Event, e.ConnectionID, data})
}

// UnmarshalJSON decodes the four element array form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 4 {
		return fmt.Errorf("invalid entry format: expected 4 elements, got %d", len(arr))
	}
	if err := json.Unmarshal(arr[0], &e.TimeOffset); err != nil {
		return fmt.Errorf("invalid time offset: %w", err)
	}
	if err := json.Unmarshal(arr[1], &e.Event); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	if err := json.Unmarshal(arr[2], &e.ConnectionID); err != nil {
		return fmt.Errorf("invalid connection id: %w", err)
	}
	e.Data = arr[3]
	return nil
}

// Writer appends entries for a single board.
type Writer struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	boardID   string
	startTime time.Time
	mu        sync.Mutex
}

// NewWriter writes a board journal to w. This is useful for testing.
func NewWriter(w io.Writer, boardID string) (*Writer, error) {
	jw := &Writer{
		writer:    w,
		boardID:   boardID,
		startTime: time.Now(),
	}
	if err := jw.writeHeader(); err != nil {
		return nil, err
	}
	return jw, nil
}

func (w *Writer) writeHeader() error {
	header := Header{
		Version:   1,
		BoardID:   w.boardID,
		Timestamp: w.startTime.Unix(),
	}
	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// Append writes one entry.
func (w *Writer) Append(event, connectionID string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := Entry{
		TimeOffset:   time.Since(w.startTime).Seconds(),
		Event:        event,
		ConnectionID: connectionID,
		Data:         json.RawMessage(data),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if _, err := w.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	return nil
}

// Close closes the journal file if the writer owns one.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Journal keeps one Writer per board under a directory.
type Journal struct {
	dir     string
	writers map[string]*Writer
	mu      sync.Mutex
}

// New creates a journal rooted at dir, creating the directory if needed.
func New(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}
	return &Journal{
		dir:     dir,
		writers: make(map[string]*Writer),
	}, nil
}

// Record appends an event to the board's journal, opening the file on first use.
func (j *Journal) Record(boardID, event, connectionID string, data []byte) error {
	w, err := j.writer(boardID)
	if err != nil {
		return err
	}
	return w.Append(event, connectionID, data)
}

func (j *Journal) writer(boardID string) (*Writer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if w, ok := j.writers[boardID]; ok {
		return w, nil
	}

	path := j.Path(boardID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	w, err := NewWriter(file, boardID)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.file = file
	j.writers[boardID] = w
	return w, nil
}

// Path returns the journal file path for a board.
func (j *Journal) Path(boardID string) string {
	return filepath.Join(j.dir, sanitize(boardID)+".jsonl")
}

// Close closes every open board journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var firstErr error
	for id, w := range j.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(j.writers, id)
	}
	return firstErr
}

// sanitize keeps board IDs from escaping the journal directory.
func sanitize(boardID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, boardID)
}
