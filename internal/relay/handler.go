package relay

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wwng2333/nexus-terminal-sub000/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking in production
		return true
	},
}

// Handler attaches browser WebSocket connections to workspace sessions.
type Handler struct {
	hubs *HubManager
}

// NewHandler creates a new relay handler.
func NewHandler() *Handler {
	return &Handler{hubs: NewHubManager()}
}

// HandleConnection upgrades the HTTP request and attaches the browser client
// to the session: history is replayed first, then live output streams until
// either side disconnects.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, sess *session.Session) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	hub := h.hubs.GetOrCreate(sess.ID)
	client := NewClient(hub, conn, sess.ID)
	hub.Register(client)

	hub.SetOnMessage(func(c *Client, msg *Message) {
		h.handleMessage(msg, sess)
	})

	// Live output fans out to every attached client.
	sess.Terminal.SetOutputCallback(func(data []byte) {
		hub.BroadcastMessage(&Message{
			Type: MessageTypeStdout,
			Data: string(data),
		})
	})

	h.sendHistory(client, sess)

	if exited, code := sess.Terminal.Exited(); exited {
		c := code
		data, err := json.Marshal(&Message{Type: MessageTypeStatus, State: "exited", Code: &c})
		if err == nil {
			client.Send(data)
		}
	}

	go h.writePump(client)
	go h.readPump(client, hub)

	return nil
}

// sendHistory replays the scrollback buffer so the client starts with the
// current screen contents.
func (h *Handler) sendHistory(client *Client, sess *session.Session) {
	history := sess.Terminal.History()
	if len(history) == 0 {
		return
	}

	data, err := json.Marshal(&Message{
		Type: MessageTypeHistory,
		Data: string(history),
	})
	if err != nil {
		log.Printf("relay: marshal history message failed: %v", err)
		return
	}

	client.Send(data)
}

// handleMessage processes incoming messages from attached clients.
func (h *Handler) handleMessage(msg *Message, sess *session.Session) {
	switch msg.Type {
	case MessageTypeStdin:
		if msg.Data == "" {
			return
		}
		if err := sess.Input(msg.Data); err != nil {
			log.Printf("relay: forwarding input to session %s failed: %v", sess.ID, err)
		}
	case MessageTypeResize:
		if msg.Rows == 0 || msg.Cols == 0 {
			return
		}
		if err := sess.Terminal.Resize(msg.Rows, msg.Cols); err != nil {
			log.Printf("relay: resize for session %s failed: %v", sess.ID, err)
		}
	case MessageTypePing:
		hub := h.hubs.Get(sess.ID)
		if hub == nil {
			return
		}
		hub.BroadcastMessage(&Message{Type: MessageTypePong})
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
func (h *Handler) readPump(client *Client, hub *Hub) {
	defer func() {
		hub.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("relay: read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("relay: dropping malformed client message: %v", err)
			continue
		}

		hub.HandleMessage(client, &msg)
	}
}

// writePump pumps queued messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One WebSocket frame per message so the frontend can
			// JSON.parse each frame.
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queued := <-client.SendChan()
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queued); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// DetachSession closes every client attached to the session and drops its
// hub. Called when the session is closed.
func (h *Handler) DetachSession(sessionID string) {
	h.hubs.Remove(sessionID)
}

// Close closes all hubs.
func (h *Handler) Close() {
	h.hubs.Close()
}
