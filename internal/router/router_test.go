package router

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
)

func TestDispatchFanOut(t *testing.T) {
	r := New()

	var order []string
	r.On("x", func(payload json.RawMessage, msg *protocol.Message) {
		order = append(order, "first")
	})
	r.On("x", func(payload json.RawMessage, msg *protocol.Message) {
		order = append(order, "second")
		panic("handler failure")
	})
	r.On("x", func(payload json.RawMessage, msg *protocol.Message) {
		order = append(order, "third")
	})

	r.Dispatch(&protocol.Message{Type: "x"})

	if len(order) != 3 {
		t.Fatalf("expected 3 handler invocations, got %d", len(order))
	}
	if order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("handlers ran out of registration order: %v", order)
	}
}

func TestDispatchIgnoresOtherTypes(t *testing.T) {
	r := New()

	called := false
	r.On("x", func(payload json.RawMessage, msg *protocol.Message) {
		called = true
	})

	r.Dispatch(&protocol.Message{Type: "y"})

	if called {
		t.Error("handler for type x invoked for a type y message")
	}
}

func TestUnregisterDuringDispatch(t *testing.T) {
	r := New()

	var calls []string
	var offSecond func()

	r.On("x", func(payload json.RawMessage, msg *protocol.Message) {
		calls = append(calls, "first")
		offSecond()
	})
	offSecond = r.On("x", func(payload json.RawMessage, msg *protocol.Message) {
		calls = append(calls, "second")
	})
	r.On("x", func(payload json.RawMessage, msg *protocol.Message) {
		calls = append(calls, "third")
	})

	// The snapshot taken at dispatch time still delivers to the handler
	// removed mid-dispatch; the removal takes effect for the next message.
	r.Dispatch(&protocol.Message{Type: "x"})
	if len(calls) != 3 {
		t.Fatalf("first dispatch: expected 3 calls, got %d (%v)", len(calls), calls)
	}

	calls = nil
	r.Dispatch(&protocol.Message{Type: "x"})
	if len(calls) != 2 {
		t.Fatalf("second dispatch: expected 2 calls, got %d (%v)", len(calls), calls)
	}
	if calls[0] != "first" || calls[1] != "third" {
		t.Errorf("unexpected delivery after unregister: %v", calls)
	}
}

func TestSelfUnregisterDoesNotAffectPeers(t *testing.T) {
	r := New()

	var calls []string
	var offSelf func()

	offSelf = r.On("x", func(payload json.RawMessage, msg *protocol.Message) {
		calls = append(calls, "self")
		offSelf()
	})
	r.On("x", func(payload json.RawMessage, msg *protocol.Message) {
		calls = append(calls, "peer")
	})

	r.Dispatch(&protocol.Message{Type: "x"})

	if len(calls) != 2 || calls[1] != "peer" {
		t.Errorf("peer handler not delivered after self-unregister: %v", calls)
	}

	calls = nil
	r.Dispatch(&protocol.Message{Type: "x"})
	if len(calls) != 1 || calls[0] != "peer" {
		t.Errorf("self-unregistered handler still delivered: %v", calls)
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := New()

	off := r.On("x", func(payload json.RawMessage, msg *protocol.Message) {})
	r.On("x", func(payload json.RawMessage, msg *protocol.Message) {})

	off()
	off() // second call must be a no-op

	if got := r.HandlerCount("x"); got != 1 {
		t.Errorf("expected 1 remaining handler, got %d", got)
	}
}

func TestClear(t *testing.T) {
	r := New()
	r.On("a", func(payload json.RawMessage, msg *protocol.Message) {})
	r.On("b", func(payload json.RawMessage, msg *protocol.Message) {})

	r.Clear()

	if r.HandlerCount("a") != 0 || r.HandlerCount("b") != 0 {
		t.Error("Clear left registrations behind")
	}
}

func TestConcurrentRegistration(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			off := r.On("x", func(payload json.RawMessage, msg *protocol.Message) {})
			r.Dispatch(&protocol.Message{Type: "x"})
			off()
		}()
	}
	wg.Wait()

	if got := r.HandlerCount("x"); got != 0 {
		t.Errorf("expected 0 handlers after concurrent register/unregister, got %d", got)
	}
}

// Property: for any number of registered handlers, one dispatch invokes each
// handler exactly once, in registration order.
func TestDispatchFanOutProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("every handler invoked exactly once in order", prop.ForAll(
		func(numHandlers int) bool {
			r := New()
			counts := make([]int, numHandlers)
			var order []int

			for i := 0; i < numHandlers; i++ {
				idx := i
				r.On("x", func(payload json.RawMessage, msg *protocol.Message) {
					counts[idx]++
					order = append(order, idx)
				})
			}

			r.Dispatch(&protocol.Message{Type: "x"})

			for i, c := range counts {
				if c != 1 {
					return false
				}
				if order[i] != i {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
