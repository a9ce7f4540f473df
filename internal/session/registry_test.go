package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wwng2333/nexus-terminal-sub000/internal/channel"
	"github.com/wwng2333/nexus-terminal-sub000/internal/db"
	"github.com/wwng2333/nexus-terminal-sub000/internal/model"
	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
	"github.com/wwng2333/nexus-terminal-sub000/internal/repository"
)

// fakeGateway accepts session connections, acknowledges them, and lets tests
// push messages down a specific target's connection.
type fakeGateway struct {
	t   *testing.T
	srv *httptest.Server

	upgrader websocket.Upgrader

	mu      sync.Mutex
	byConn  []*gatewayConn
	writeMu sync.Mutex
}

type gatewayConn struct {
	targetID string
	conn     *websocket.Conn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{t: t}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) url() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	gc := &gatewayConn{targetID: r.URL.Query().Get("targetId"), conn: conn}
	g.mu.Lock()
	g.byConn = append(g.byConn, gc)
	g.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == protocol.TypeSessionConnect {
			g.writeMu.Lock()
			conn.WriteJSON(&protocol.Message{Type: protocol.TypeSessionConnected})
			conn.WriteJSON(&protocol.Message{Type: protocol.TypeSFTPReady})
			g.writeMu.Unlock()
		}
	}
}

// push writes a message to the n-th connection for the given target.
func (g *fakeGateway) push(t *testing.T, targetID string, n int, msg *protocol.Message) {
	t.Helper()
	g.mu.Lock()
	var conns []*gatewayConn
	for _, gc := range g.byConn {
		if gc.targetID == targetID {
			conns = append(conns, gc)
		}
	}
	g.mu.Unlock()
	if len(conns) <= n {
		t.Fatalf("no connection %d for target %s", n, targetID)
	}
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	if err := conns[n].conn.WriteJSON(msg); err != nil {
		t.Fatalf("gateway push failed: %v", err)
	}
}

func (g *fakeGateway) connCount(targetID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, gc := range g.byConn {
		if gc.targetID == targetID {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newTestRegistry(t *testing.T, g *fakeGateway) (*Registry, *repository.SessionRepository) {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	repo := repository.NewSessionRepository(testDB)

	r := NewRegistry(Config{
		GatewayURL:           g.url(),
		MaxReconnectAttempts: 3,
		BackoffBase:          time.Millisecond,
		RequestTimeout:       time.Second,
		StatusInterval:       time.Hour,
	}, repo)
	t.Cleanup(func() { r.CloseAll(context.Background()) })
	return r, repo
}

func TestOpenConnectsAndPersists(t *testing.T) {
	g := newFakeGateway(t)
	r, repo := newTestRegistry(t, g)

	s, err := r.Open(context.Background(), model.OpenSessionRequest{TargetID: "host-a"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if !waitFor(t, 2*time.Second, s.Channel.Connected) {
		t.Fatalf("session never connected, state=%s", s.Channel.State())
	}
	if active := r.Active(); active == nil || active.ID != s.ID {
		t.Error("opened session is not active")
	}

	record, err := repo.GetByID(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("session record not persisted: %v", err)
	}
	if record.TargetID != "host-a" || record.Status != model.SessionStatusOpen {
		t.Errorf("unexpected persisted record: %+v", record)
	}
}

func TestOpenReusesExistingSession(t *testing.T) {
	g := newFakeGateway(t)
	r, _ := newTestRegistry(t, g)

	first, err := r.Open(context.Background(), model.OpenSessionRequest{TargetID: "host-a"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, first.Channel.Connected) {
		t.Fatal("first session never connected")
	}

	again, err := r.Open(context.Background(), model.OpenSessionRequest{TargetID: "host-a"})
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	if again.ID != first.ID {
		t.Error("open without newSession built a second session for the same target")
	}
	if n := g.connCount("host-a"); n != 1 {
		t.Errorf("expected 1 gateway connection, got %d", n)
	}

	forced, err := r.Open(context.Background(), model.OpenSessionRequest{TargetID: "host-a", NewSession: true})
	if err != nil {
		t.Fatalf("forced Open failed: %v", err)
	}
	if forced.ID == first.ID {
		t.Error("newSession did not build an independent session")
	}
	if !waitFor(t, 2*time.Second, forced.Channel.Connected) {
		t.Fatal("forced session never connected")
	}
	if len(r.List()) != 2 {
		t.Errorf("expected 2 live sessions, got %d", len(r.List()))
	}
}

func TestOpenValidatesTarget(t *testing.T) {
	g := newFakeGateway(t)
	r, _ := newTestRegistry(t, g)

	if _, err := r.Open(context.Background(), model.OpenSessionRequest{}); err != model.ErrTargetRequired {
		t.Errorf("expected ErrTargetRequired, got %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	g := newFakeGateway(t)
	r, _ := newTestRegistry(t, g)

	a, err := r.Open(context.Background(), model.OpenSessionRequest{TargetID: "host-a"})
	if err != nil {
		t.Fatalf("Open host-a failed: %v", err)
	}
	b, err := r.Open(context.Background(), model.OpenSessionRequest{TargetID: "host-b"})
	if err != nil {
		t.Fatalf("Open host-b failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool {
		return a.Channel.Connected() && b.Channel.Connected()
	}) {
		t.Fatal("sessions never connected")
	}

	msg, _ := protocol.New(protocol.TypeTerminalData, protocol.TerminalDataPayload{Data: "only-for-a"})
	g.push(t, "host-a", 0, msg)

	if !waitFor(t, 2*time.Second, func() bool {
		return string(a.Terminal.History()) == "only-for-a"
	}) {
		t.Fatalf("session a never received its output, history=%q", a.Terminal.History())
	}
	if got := b.Terminal.History(); len(got) != 0 {
		t.Errorf("output leaked into session b: %q", got)
	}
}

func TestCloseFallsBackToNewestRemaining(t *testing.T) {
	g := newFakeGateway(t)
	r, repo := newTestRegistry(t, g)

	a, _ := r.Open(context.Background(), model.OpenSessionRequest{TargetID: "host-a"})
	time.Sleep(2 * time.Millisecond)
	b, _ := r.Open(context.Background(), model.OpenSessionRequest{TargetID: "host-b"})
	time.Sleep(2 * time.Millisecond)
	c, _ := r.Open(context.Background(), model.OpenSessionRequest{TargetID: "host-c"})

	if active := r.Active(); active.ID != c.ID {
		t.Fatalf("expected last opened session active")
	}

	if err := r.Close(context.Background(), c.ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if active := r.Active(); active == nil || active.ID != b.ID {
		t.Error("active did not fall back to most recent remaining session")
	}

	record, err := repo.GetByID(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("closed session record missing: %v", err)
	}
	if record.Status != model.SessionStatusClosed {
		t.Errorf("closed session persisted as %s", record.Status)
	}

	if err := r.Close(context.Background(), c.ID); err != model.ErrSessionNotFound {
		t.Errorf("closing twice: got %v, want ErrSessionNotFound", err)
	}

	_ = a
}

func TestCloseTearsDownChannel(t *testing.T) {
	g := newFakeGateway(t)
	r, _ := newTestRegistry(t, g)

	s, err := r.Open(context.Background(), model.OpenSessionRequest{TargetID: "host-a"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, s.Channel.Connected) {
		t.Fatal("session never connected")
	}
	rt := s.Channel.Router()

	if err := r.Close(context.Background(), s.ID); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if s.Channel.State() != channel.StateDisconnected {
		t.Errorf("channel not disconnected after close: %s", s.Channel.State())
	}
	for _, msgType := range []string{
		protocol.TypeTerminalData,
		protocol.TypeTerminalExit,
		protocol.TypeUploadReady,
		protocol.TypeStatusUpdate,
	} {
		if n := rt.HandlerCount(msgType); n != 0 {
			t.Errorf("%s handler leaked after close: %d registrations", msgType, n)
		}
	}
}
