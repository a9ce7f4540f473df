// Package request pairs outbound requests with their asynchronous responses
// by correlation id.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
)

// ErrTimeout is returned when no matching response arrives before the
// deadline. It is distinguishable from a *ServerError so callers can offer
// retry versus report flows separately.
var ErrTimeout = errors.New("request timed out")

// ServerError carries an error-typed response from the gateway.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}

// DefaultTimeout bounds a request/response exchange.
const DefaultTimeout = 30 * time.Second

// Bus is the subset of the session channel a correlator needs.
type Bus interface {
	Send(msg *protocol.Message) error
	On(msgType string, fn func(payload json.RawMessage, msg *protocol.Message)) func()
}

// Options configures one request/response exchange.
type Options struct {
	// Success and Error are the expected response types.
	Success string
	Error   string

	// Path is an optional secondary key. When set, a response only matches
	// if its payload echoes the same path, so concurrent requests against
	// the same response types but different resources never cross-resolve.
	Path string

	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
}

// Correlator issues correlated requests over a Bus. The zero timeout uses
// DefaultTimeout. A Correlator is stateless; concurrent Do calls each carry
// their own correlation id.
type Correlator struct {
	bus     Bus
	timeout time.Duration
}

// New creates a Correlator over bus. timeout <= 0 selects DefaultTimeout.
func New(bus Bus, timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Correlator{bus: bus, timeout: timeout}
}

type outcome struct {
	payload json.RawMessage
	err     error
}

// pathEcho is the minimal payload shape for secondary-key matching.
type pathEcho struct {
	Path string `json:"path"`
}

// Do sends an outbound message of msgType carrying a fresh correlation id
// and blocks until the matching success or error response arrives, or the
// timeout elapses. Both one-shot handlers are unregistered on every exit
// path, so a late response after timeout neither resolves nor leaks.
func (c *Correlator) Do(msgType string, payload any, opts Options) (json.RawMessage, error) {
	id := uuid.New().String()
	done := make(chan outcome, 1)

	matches := func(msg *protocol.Message) bool {
		if msg.RequestID != id {
			return false
		}
		if opts.Path != "" {
			var echo pathEcho
			if err := msg.DecodePayload(&echo); err != nil || echo.Path != opts.Path {
				return false
			}
		}
		return true
	}

	offSuccess := c.bus.On(opts.Success, func(p json.RawMessage, msg *protocol.Message) {
		if !matches(msg) {
			return
		}
		select {
		case done <- outcome{payload: p}:
		default:
		}
	})
	defer offSuccess()

	offError := c.bus.On(opts.Error, func(p json.RawMessage, msg *protocol.Message) {
		if !matches(msg) {
			return
		}
		var ep protocol.ErrorPayload
		if err := msg.DecodePayload(&ep); err != nil {
			ep.Message = "malformed error response"
		}
		select {
		case done <- outcome{err: &ServerError{Message: ep.Message}}:
		default:
		}
	})
	defer offError()

	msg, err := protocol.New(msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.RequestID = id
	if err := c.bus.Send(msg); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.payload, o.err
	case <-timer.C:
		return nil, ErrTimeout
	}
}
