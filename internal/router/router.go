// Package router provides message-type based dispatch for a session channel.
package router

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
)

// Handler processes one inbound message. The payload is passed alongside the
// full envelope so handlers that only care about the payload stay short.
type Handler func(payload json.RawMessage, msg *protocol.Message)

type registration struct {
	id      uint64
	handler Handler
}

// Router maps a message type to an ordered list of handlers. Dispatch invokes
// every handler registered for the message's type, in registration order. A
// panicking handler does not prevent delivery to the remaining handlers.
type Router struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]registration
}

// New creates an empty Router.
func New() *Router {
	return &Router{
		handlers: make(map[string][]registration),
	}
}

// On registers a handler for the given message type and returns a function
// that removes exactly that registration. The returned function is safe to
// call multiple times and safe to call from inside a handler during dispatch.
func (r *Router) On(msgType string, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.handlers[msgType] = append(r.handlers[msgType], registration{id: id, handler: h})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		regs := r.handlers[msgType]
		for i, reg := range regs {
			if reg.id == id {
				r.handlers[msgType] = append(regs[:i:i], regs[i+1:]...)
				break
			}
		}
		if len(r.handlers[msgType]) == 0 {
			delete(r.handlers, msgType)
		}
	}
}

// Dispatch delivers msg to every handler registered for msg.Type. Handlers
// run on the caller's goroutine in registration order. Dispatch snapshots the
// handler list first, so handlers unregistered mid-dispatch by a peer still
// receive the current message but none after it.
func (r *Router) Dispatch(msg *protocol.Message) {
	r.mu.Lock()
	regs := r.handlers[msg.Type]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	r.mu.Unlock()

	for _, reg := range snapshot {
		invoke(reg.handler, msg)
	}
}

// invoke runs a single handler, isolating panics so one misbehaving consumer
// cannot break delivery to the others.
func invoke(h Handler, msg *protocol.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("router: handler for %q panicked: %v", msg.Type, rec)
		}
	}()
	h(msg.Payload, msg)
}

// HandlerCount returns the number of handlers registered for msgType.
func (r *Router) HandlerCount(msgType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[msgType])
}

// Clear removes all registrations. Used on channel teardown.
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string][]registration)
}
