// Package recorder captures workspace session terminal traffic in the
// Asciinema v2 JSON-Lines format, one recording file per session.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Header is the first line of an Asciinema v2 recording.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one recorded event: [time_offset, event_type, data].
type Event struct {
	TimeOffset float64
	EventType  string // "o" for output, "i" for input
	Data       string
}

// MarshalJSON encodes the event as the three-element array the format uses.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.EventType, e.Data})
}

// UnmarshalJSON decodes the three-element array form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 3 {
		return fmt.Errorf("invalid event format: expected 3 elements, got %d", len(arr))
	}

	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	e.TimeOffset = timeOffset

	eventType, ok := arr[1].(string)
	if !ok {
		return fmt.Errorf("invalid event type")
	}
	e.EventType = eventType

	eventData, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}
	e.Data = eventData

	return nil
}

// Recorder writes one session's recording. Safe for concurrent use; output
// and input events may come from different goroutines.
type Recorder struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	path      string
	startTime time.Time
	mu        sync.Mutex
}

// New creates a Recorder writing to a fresh file under dir, named by the
// session id and start time.
func New(dir, sessionID string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording dir: %w", err)
	}
	start := time.Now()
	name := fmt.Sprintf("%s-%s.cast", sessionID, start.Format("20060102-150405"))
	path := filepath.Join(dir, name)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}
	return &Recorder{
		writer:    file,
		file:      file,
		path:      path,
		startTime: start,
	}, nil
}

// NewWithWriter creates a Recorder that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Recorder {
	return &Recorder{
		writer:    w,
		startTime: time.Now(),
	}
}

// WriteHeader writes the recording header. Call once before any event.
func (r *Recorder) WriteHeader(cols, rows int, env map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	header := Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.startTime.Unix(),
		Env:       env,
	}

	data, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	return nil
}

// WriteOutput records an output event ("o").
func (r *Recorder) WriteOutput(data []byte) error {
	return r.writeEvent("o", data)
}

// WriteInput records an input event ("i").
func (r *Recorder) WriteInput(data []byte) error {
	return r.writeEvent("i", data)
}

func (r *Recorder) writeEvent(eventType string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := Event{
		TimeOffset: time.Since(r.startTime).Seconds(),
		EventType:  eventType,
		Data:       string(data),
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := r.writer.Write(append(eventData, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// Close closes the recording file, if the recorder owns one.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Path returns the recording file path, empty for writer-backed recorders.
func (r *Recorder) Path() string {
	return r.path
}

// StartTime returns the start time of the recording.
func (r *Recorder) StartTime() time.Time {
	return r.startTime
}
