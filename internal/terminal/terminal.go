// Package terminal is the terminal I/O consumer of a workspace session.
package terminal

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/wwng2333/nexus-terminal-sub000/internal/buffer"
	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
)

// DefaultScrollback is the ring buffer capacity for terminal history.
const DefaultScrollback = 256 * 1024

// Bus is the subset of the session channel the terminal needs.
type Bus interface {
	Send(msg *protocol.Message) error
	On(msgType string, fn func(payload json.RawMessage, msg *protocol.Message)) func()
}

// Terminal receives remote shell output and sends keystrokes and resize
// events. Recent output is retained in a ring buffer so a (re)attaching
// browser client immediately receives history.
type Terminal struct {
	bus     Bus
	history *buffer.RingBuffer

	mu       sync.Mutex
	offs     []func()
	output   func(data []byte)
	exited   bool
	exitCode int
}

// New creates the terminal consumer and registers its message handlers.
// scrollback <= 0 selects DefaultScrollback.
func New(bus Bus, scrollback int) *Terminal {
	if scrollback <= 0 {
		scrollback = DefaultScrollback
	}
	t := &Terminal{
		bus:     bus,
		history: buffer.NewRingBuffer(scrollback),
	}
	t.offs = []func(){
		bus.On(protocol.TypeTerminalData, t.handleData),
		bus.On(protocol.TypeTerminalExit, t.handleExit),
	}
	return t
}

func (t *Terminal) handleData(payload json.RawMessage, msg *protocol.Message) {
	var p protocol.TerminalDataPayload
	if err := msg.DecodePayload(&p); err != nil {
		log.Printf("terminal: malformed terminal:data payload: %v", err)
		return
	}
	data := []byte(p.Data)
	t.history.Write(data)

	t.mu.Lock()
	output := t.output
	t.mu.Unlock()
	if output != nil {
		output(data)
	}
}

func (t *Terminal) handleExit(payload json.RawMessage, msg *protocol.Message) {
	var p protocol.TerminalExitPayload
	if err := msg.DecodePayload(&p); err != nil {
		log.Printf("terminal: malformed terminal:exit payload: %v", err)
		return
	}
	t.mu.Lock()
	t.exited = true
	t.exitCode = p.Code
	t.mu.Unlock()
}

// SendInput sends keystrokes to the remote shell.
func (t *Terminal) SendInput(data string) error {
	msg, err := protocol.New(protocol.TypeTerminalInput, protocol.TerminalInputPayload{Data: data})
	if err != nil {
		return err
	}
	return t.bus.Send(msg)
}

// Resize reports a terminal window size change.
func (t *Terminal) Resize(rows, cols uint16) error {
	msg, err := protocol.New(protocol.TypeTerminalResize, protocol.TerminalResizePayload{Rows: rows, Cols: cols})
	if err != nil {
		return err
	}
	return t.bus.Send(msg)
}

// History returns the buffered scrollback.
func (t *Terminal) History() []byte {
	return t.history.ReadAll()
}

// SetOutputCallback sets the callback invoked with every inbound output
// chunk. Used by the browser relay.
func (t *Terminal) SetOutputCallback(fn func(data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output = fn
}

// Exited reports whether the remote shell exited and with which code.
func (t *Terminal) Exited() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited, t.exitCode
}

// Close unregisters the terminal's message handlers.
func (t *Terminal) Close() {
	t.mu.Lock()
	offs := t.offs
	t.offs = nil
	t.output = nil
	t.mu.Unlock()
	for _, off := range offs {
		off()
	}
}
