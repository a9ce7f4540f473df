// Package status polls the remote host for resource usage snapshots.
package status

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
)

// DefaultInterval is the polling cadence when none is configured.
const DefaultInterval = 5 * time.Second

// Bus is the subset of the session channel the monitor needs.
type Bus interface {
	Send(msg *protocol.Message) error
	On(msgType string, fn func(payload json.RawMessage, msg *protocol.Message)) func()
	Connected() bool
}

// Monitor periodically requests a host status snapshot while the session is
// connected and retains the most recent one. Polling is fire-and-forget:
// updates are pushed back as status:update and may arrive out of cadence.
type Monitor struct {
	bus      Bus
	interval time.Duration

	mu     sync.Mutex
	latest *protocol.StatusPayload
	at     time.Time

	off  func()
	stop chan struct{}
	once sync.Once
}

// New creates the monitor, registers its update handler and starts polling.
// interval <= 0 selects DefaultInterval.
func New(bus Bus, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		bus:      bus,
		interval: interval,
		stop:     make(chan struct{}),
	}
	m.off = bus.On(protocol.TypeStatusUpdate, m.handleUpdate)
	go m.poll()
	return m
}

func (m *Monitor) handleUpdate(payload json.RawMessage, msg *protocol.Message) {
	var p protocol.StatusPayload
	if err := msg.DecodePayload(&p); err != nil {
		log.Printf("status: malformed status:update payload: %v", err)
		return
	}
	m.mu.Lock()
	m.latest = &p
	m.at = time.Now()
	m.mu.Unlock()
}

func (m *Monitor) poll() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if !m.bus.Connected() {
				continue
			}
			msg, err := protocol.New(protocol.TypeStatusRequest, nil)
			if err != nil {
				continue
			}
			if err := m.bus.Send(msg); err != nil {
				log.Printf("status: poll send failed: %v", err)
			}
		}
	}
}

// Latest returns the most recent snapshot and its arrival time. ok is false
// until the first update arrives.
func (m *Monitor) Latest() (snapshot protocol.StatusPayload, at time.Time, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return protocol.StatusPayload{}, time.Time{}, false
	}
	return *m.latest, m.at, true
}

// Close stops polling and unregisters the update handler.
func (m *Monitor) Close() {
	m.once.Do(func() {
		close(m.stop)
		m.off()
	})
}
