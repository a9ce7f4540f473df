package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wwng2333/nexus-terminal-sub000/internal/db"
	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
	"github.com/wwng2333/nexus-terminal-sub000/internal/repository"
	"github.com/wwng2333/nexus-terminal-sub000/internal/session"
)

// fakeGateway acknowledges every session connection.
type fakeGateway struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.mu.Lock()
		g.conns = append(g.conns, conn)
		g.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg protocol.Message
			if json.Unmarshal(data, &msg) == nil && msg.Type == protocol.TypeSessionConnect {
				conn.WriteJSON(&protocol.Message{Type: protocol.TypeSessionConnected})
				conn.WriteJSON(&protocol.Message{Type: protocol.TypeSFTPReady})
			}
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	g := newFakeGateway(t)
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })

	registry := session.NewRegistry(session.Config{
		GatewayURL:           "ws" + strings.TrimPrefix(g.srv.URL, "http"),
		MaxReconnectAttempts: 3,
		BackoffBase:          time.Millisecond,
		RequestTimeout:       time.Second,
		StatusInterval:       time.Hour,
	}, repository.NewSessionRepository(testDB))
	t.Cleanup(func() { registry.CloseAll(context.Background()) })

	sessionHandler := NewSessionHandler(registry)
	r := gin.New()
	api := r.Group("/api")
	sessionHandler.RegisterRoutes(api)
	NewFilesHandler(registry).RegisterRoutes(api)
	NewTransferHandler(registry).RegisterRoutes(api)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	var buf [8192]byte
	n, _ := resp.Body.Read(buf[:])
	return resp, buf[:n]
}

func TestOpenListCloseOverHTTP(t *testing.T) {
	srv, registry := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", `{"targetId":"host-a"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open returned %d: %s", resp.StatusCode, body)
	}
	var opened SessionResponse
	if err := json.Unmarshal(body, &opened); err != nil {
		t.Fatalf("decoding open response: %v", err)
	}
	if opened.TargetID != "host-a" || !opened.Active {
		t.Errorf("unexpected open response: %+v", opened)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/sessions", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list returned %d", resp.StatusCode)
	}
	var listed []SessionResponse
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatalf("decoding list response: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != opened.ID {
		t.Errorf("unexpected list: %+v", listed)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/"+opened.ID, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close returned %d", resp.StatusCode)
	}
	if len(registry.List()) != 0 {
		t.Error("session survived DELETE")
	}
}

func TestOpenValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("open without target returned %d: %s", resp.StatusCode, body)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	if errResp.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("unexpected error code: %s", errResp.Error.Code)
	}
}

func TestUnknownSessionReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, tc := range []struct {
		method string
		url    string
		body   string
	}{
		{http.MethodGet, "/api/sessions/nope", ""},
		{http.MethodDelete, "/api/sessions/nope", ""},
		{http.MethodPost, "/api/sessions/nope/activate", ""},
		{http.MethodPost, "/api/sessions/nope/input", `{"data":"x"}`},
		{http.MethodGet, "/api/sessions/nope/files", ""},
		{http.MethodGet, "/api/sessions/nope/uploads", ""},
	} {
		resp, _ := doJSON(t, tc.method, srv.URL+tc.url, tc.body)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s %s returned %d, want 404", tc.method, tc.url, resp.StatusCode)
		}
	}
}

func TestActivateSwitchesActiveSession(t *testing.T) {
	srv, registry := newTestServer(t)

	_, bodyA := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", `{"targetId":"host-a"}`)
	var a SessionResponse
	json.Unmarshal(bodyA, &a)

	_, bodyB := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", `{"targetId":"host-b"}`)
	var b SessionResponse
	json.Unmarshal(bodyB, &b)

	if active := registry.Active(); active == nil || active.ID != b.ID {
		t.Fatal("last opened session is not active")
	}

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+a.ID+"/activate", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("activate returned %d", resp.StatusCode)
	}
	if active := registry.Active(); active == nil || active.ID != a.ID {
		t.Error("activate did not switch the active session")
	}
}

func TestStatusUnavailableBeforeFirstUpdate(t *testing.T) {
	srv, _ := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", `{"targetId":"host-a"}`)
	var opened SessionResponse
	json.Unmarshal(body, &opened)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+opened.ID+"/status", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status before first update returned %d, want 404", resp.StatusCode)
	}
}
