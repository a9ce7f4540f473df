// Package channel owns the persistent duplex message connection for one
// workspace session: connect, reconnect with backoff, send, and typed
// message receipt.
package channel

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wwng2333/nexus-terminal-sub000/internal/model"
	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
	"github.com/wwng2333/nexus-terminal-sub000/internal/router"
)

// State represents the connection state of a Channel.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

const (
	// Time allowed to write a message to the gateway.
	writeWait = 10 * time.Second

	defaultMaxReconnectAttempts = 5
	defaultBackoffBase          = time.Second
	defaultMaxBackoff           = 30 * time.Second
)

// Config holds configuration for a Channel.
type Config struct {
	// TargetID identifies the remote host; it is sent with session:connect
	// immediately on transport open.
	TargetID string

	// MaxReconnectAttempts bounds automatic reconnection. Exceeding it
	// transitions the channel to StateError.
	MaxReconnectAttempts int

	// BackoffBase is the unit of the power-of-two reconnect delay
	// progression. Tests shrink it to keep reconnect cycles fast.
	BackoffBase time.Duration

	// MaxBackoff caps the reconnect delay. Zero means no cap.
	MaxBackoff time.Duration

	// Dialer overrides the WebSocket dialer. Nil uses the default.
	Dialer *websocket.Dialer
}

// Channel is the single owner of one WebSocket transport to a gateway. At
// most one live underlying connection exists at any time: every new connect
// attempt bumps the connection generation, so the read loop of a retired
// connection exits without touching channel state.
type Channel struct {
	cfg    Config
	router *router.Router

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	gen            int
	url            string
	attempts       int
	intentional    bool
	sftpReady      bool
	reconnectTimer *time.Timer

	// writeMu serializes writes to the transport.
	writeMu sync.Mutex
}

// New creates a Channel dispatching inbound messages through r.
func New(cfg Config, r *router.Router) *Channel {
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Channel{
		cfg:    cfg,
		router: r,
		state:  StateIdle,
	}
}

// Connect opens the transport to url. Calling it while already connecting or
// connected to the same url is a no-op. A call targeting a different url
// first retires the existing connection (detaching its callbacks before
// closing) and then opens a new one. The dial happens asynchronously; the
// channel reaches StateConnected only after the gateway acknowledges the
// session:connect message.
func (c *Channel) Connect(url string) {
	c.mu.Lock()

	if (c.state == StateConnecting || c.state == StateConnected) && url == c.url {
		c.mu.Unlock()
		return
	}

	// Retire any existing connection before dialing a new one, so its
	// asynchronous close event cannot corrupt the new connection's state.
	if old := c.conn; old != nil {
		c.conn = nil
		go old.Close()
	}
	c.gen++
	gen := c.gen

	c.intentional = false
	c.url = url
	c.state = StateConnecting
	c.mu.Unlock()

	go c.dial(url, gen)
}

func (c *Channel) dial(url string, gen int) {
	conn, _, err := c.cfg.Dialer.Dial(url, nil)

	c.mu.Lock()
	if gen != c.gen || c.intentional {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.mu.Unlock()
		log.Printf("channel[%s]: dial %s failed: %v", c.cfg.TargetID, url, err)
		c.scheduleReconnect()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	msg, _ := protocol.New(protocol.TypeSessionConnect, protocol.ConnectPayload{TargetID: c.cfg.TargetID})
	if err := c.write(conn, msg); err != nil {
		log.Printf("channel[%s]: session:connect failed: %v", c.cfg.TargetID, err)
	}

	go c.readLoop(conn, gen)
}

// readLoop pumps inbound messages from one connection to the router. The
// channel observes session:connected and sftp:ready itself before dispatch.
func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("channel[%s]: dropping malformed message: %v", c.cfg.TargetID, err)
			continue
		}

		c.mu.Lock()
		if gen != c.gen {
			// Retired connection; stop delivering.
			c.mu.Unlock()
			conn.Close()
			return
		}
		switch msg.Type {
		case protocol.TypeSessionConnected:
			c.state = StateConnected
			c.attempts = 0
		case protocol.TypeSFTPReady:
			c.sftpReady = true
		}
		c.mu.Unlock()

		c.router.Dispatch(&msg)
	}
}

func (c *Channel) handleClose(gen int, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.sftpReady = false
	if c.intentional {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		log.Printf("channel[%s]: connection lost: %v", c.cfg.TargetID, err)
	}
	c.scheduleReconnect()
}

// scheduleReconnect arms a reconnect attempt after the backoff delay for the
// next attempt number. Exceeding the attempt bound halts retries and leaves
// the channel in StateError.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.intentional {
		return
	}

	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.state = StateError
		log.Printf("channel[%s]: giving up after %d reconnect attempts", c.cfg.TargetID, c.cfg.MaxReconnectAttempts)
		return
	}

	c.state = StateDisconnected
	url := c.url
	delay := BackoffDelay(c.cfg.BackoffBase, c.attempts, c.cfg.MaxBackoff)
	log.Printf("channel[%s]: reconnect attempt %d in %s", c.cfg.TargetID, c.attempts, delay)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.Connect(url)
	})
}

// Send serializes and transmits msg. It no-ops with a logged, observable
// failure when the transport is not open; callers check readiness before
// relying on delivery.
func (c *Channel) Send(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil || (state != StateConnected && state != StateConnecting) {
		log.Printf("channel[%s]: dropping %q message, channel is %s", c.cfg.TargetID, msg.Type, state)
		return model.ErrNotConnected
	}
	return c.write(conn, msg)
}

func (c *Channel) write(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect closes the transport with a normal closure code and suppresses
// any pending or future automatic reconnection. Dependent readiness flags
// are reset.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	c.sftpReady = false
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.gen++
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(writeWait)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		conn.Close()
	}
}

// On registers a consumer for inbound messages of the given type and returns
// a function that removes exactly that registration.
func (c *Channel) On(msgType string, fn func(payload json.RawMessage, msg *protocol.Message)) func() {
	return c.router.On(msgType, router.Handler(fn))
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the gateway has acknowledged the session.
func (c *Channel) Connected() bool {
	return c.State() == StateConnected
}

// SFTPReady reports whether the remote file subsystem has signalled
// readiness on the current connection.
func (c *Channel) SFTPReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sftpReady
}

// URL returns the last target URL, retained for retry.
func (c *Channel) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Router returns the router dispatching this channel's inbound messages.
func (c *Channel) Router() *router.Router {
	return c.router
}
