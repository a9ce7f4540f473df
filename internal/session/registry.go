// Package session owns the lifetime of workspace sessions: opening,
// activation, and teardown of the per-session channel and its consumers.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wwng2333/nexus-terminal-sub000/internal/channel"
	"github.com/wwng2333/nexus-terminal-sub000/internal/files"
	"github.com/wwng2333/nexus-terminal-sub000/internal/model"
	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
	"github.com/wwng2333/nexus-terminal-sub000/internal/recorder"
	"github.com/wwng2333/nexus-terminal-sub000/internal/repository"
	"github.com/wwng2333/nexus-terminal-sub000/internal/router"
	"github.com/wwng2333/nexus-terminal-sub000/internal/status"
	"github.com/wwng2333/nexus-terminal-sub000/internal/terminal"
	"github.com/wwng2333/nexus-terminal-sub000/internal/transfer"
)

// Session bundles one workspace session: its channel and the consumers
// wired onto it. Each session has its own router, so traffic never leaks
// between sessions sharing a process.
type Session struct {
	ID        string
	TargetID  string
	CreatedAt time.Time

	Channel  *channel.Channel
	Terminal *terminal.Terminal
	Files    *files.Files
	Uploader *transfer.Uploader
	Status   *status.Monitor

	rec    *recorder.Recorder
	offRec func()
}

// Input forwards keystrokes to the remote shell and records them.
func (s *Session) Input(data string) error {
	if s.rec != nil {
		if err := s.rec.WriteInput([]byte(data)); err != nil {
			log.Printf("session[%s]: recording input failed: %v", s.ID, err)
		}
	}
	return s.Terminal.SendInput(data)
}

// RecordingPath returns the session's recording file path, empty when
// recording is disabled.
func (s *Session) RecordingPath() string {
	if s.rec == nil {
		return ""
	}
	return s.rec.Path()
}

// Record returns the persisted view of the session.
func (s *Session) Record() *model.SessionRecord {
	return &model.SessionRecord{
		ID:        s.ID,
		TargetID:  s.TargetID,
		Status:    model.SessionStatusOpen,
		Cwd:       s.Files.Cwd(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: time.Now(),
	}
}

// Config holds registry-wide settings applied to every session.
type Config struct {
	// GatewayURL is the base WebSocket URL of the gateway, e.g.
	// ws://gateway:8080.
	GatewayURL string

	// RecordingDir stores per-session Asciinema recordings. Empty disables
	// recording.
	RecordingDir string

	MaxReconnectAttempts int
	BackoffBase          time.Duration
	MaxBackoff           time.Duration
	RequestTimeout       time.Duration
	ChunkSize            int
	StatusInterval       time.Duration
	Scrollback           int

	// Dialer overrides the WebSocket dialer. Nil uses the default.
	Dialer *websocket.Dialer
}

// Registry manages all live sessions and tracks which one is active.
type Registry struct {
	cfg  Config
	repo *repository.SessionRepository

	mu       sync.Mutex
	sessions map[string]*Session
	active   string
}

// NewRegistry creates a Registry. repo may be nil to disable persistence.
func NewRegistry(cfg Config, repo *repository.SessionRepository) *Registry {
	return &Registry{
		cfg:      cfg,
		repo:     repo,
		sessions: make(map[string]*Session),
	}
}

// sessionURL builds the gateway WebSocket URL for a target.
func (r *Registry) sessionURL(targetID string) string {
	return fmt.Sprintf("%s/ws/session?targetId=%s", r.cfg.GatewayURL, url.QueryEscape(targetID))
}

// Open opens a session against the requested target and makes it active.
// Without NewSession, an existing session for the target is reused: if its
// channel dropped, a reconnect is triggered instead of building a second
// session. NewSession always builds an additional independent session.
func (r *Registry) Open(ctx context.Context, req model.OpenSessionRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if !req.NewSession {
		if s := r.findByTarget(req.TargetID); s != nil {
			switch s.Channel.State() {
			case channel.StateDisconnected, channel.StateError:
				s.Channel.Connect(r.sessionURL(req.TargetID))
			}
			r.setActive(s.ID)
			return s, nil
		}
	}

	s, err := r.build(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.active = s.ID
	r.mu.Unlock()

	s.Channel.Connect(r.sessionURL(req.TargetID))
	return s, nil
}

// build assembles the channel and consumers for a new session.
func (r *Registry) build(ctx context.Context, targetID string) (*Session, error) {
	id := uuid.New().String()
	rt := router.New()
	ch := channel.New(channel.Config{
		TargetID:             targetID,
		MaxReconnectAttempts: r.cfg.MaxReconnectAttempts,
		BackoffBase:          r.cfg.BackoffBase,
		MaxBackoff:           r.cfg.MaxBackoff,
		Dialer:               r.cfg.Dialer,
	}, rt)

	s := &Session{
		ID:        id,
		TargetID:  targetID,
		CreatedAt: time.Now(),
		Channel:   ch,
		Terminal:  terminal.New(ch, r.cfg.Scrollback),
		Files:     files.New(ch, r.cfg.RequestTimeout),
		Uploader:  transfer.NewUploader(ch, transfer.UploaderConfig{ChunkSize: r.cfg.ChunkSize}),
		Status:    status.New(ch, r.cfg.StatusInterval),
	}

	// A finished upload into the browsed directory refreshes the listing.
	s.Uploader.SetOnUploaded(func(dir string) {
		if dir == s.Files.Cwd() {
			go func() {
				if _, err := s.Files.Refresh(); err != nil {
					log.Printf("session[%s]: post-upload refresh failed: %v", s.ID, err)
				}
			}()
		}
	})

	if r.repo != nil {
		s.Files.SetOnCwdChange(func(cwd string) {
			if err := r.repo.UpdateCwd(context.Background(), s.ID, cwd); err != nil {
				log.Printf("session[%s]: persisting cwd failed: %v", s.ID, err)
			}
		})
	}

	if r.cfg.RecordingDir != "" {
		rec, err := recorder.New(r.cfg.RecordingDir, id)
		if err != nil {
			log.Printf("session[%s]: recording disabled: %v", id, err)
		} else {
			if err := rec.WriteHeader(80, 24, nil); err != nil {
				log.Printf("session[%s]: recording header failed: %v", id, err)
			}
			s.rec = rec
			s.offRec = ch.On(protocol.TypeTerminalData, func(_ json.RawMessage, msg *protocol.Message) {
				var p protocol.TerminalDataPayload
				if msg.DecodePayload(&p) == nil {
					rec.WriteOutput([]byte(p.Data))
				}
			})
		}
	}

	if r.repo != nil {
		if err := r.repo.Create(ctx, s.Record()); err != nil {
			s.teardown()
			return nil, fmt.Errorf("persisting session: %w", err)
		}
	}

	return s, nil
}

func (r *Registry) findByTarget(targetID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var newest *Session
	for _, s := range r.sessions {
		if s.TargetID != targetID {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	return newest
}

func (r *Registry) setActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		r.active = id
	}
}

// Activate makes the session with the given id the active one.
func (r *Registry) Activate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return model.ErrSessionNotFound
	}
	r.active = id
	return nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return s, nil
}

// Active returns the active session, or nil when no session is open.
func (r *Registry) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[r.active]
}

// List returns all live sessions, newest first.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Close tears down the session with the given id. If it was active, the most
// recently created remaining session becomes active.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return model.ErrSessionNotFound
	}
	delete(r.sessions, id)
	if r.active == id {
		r.active = ""
		var newest *Session
		for _, rest := range r.sessions {
			if newest == nil || rest.CreatedAt.After(newest.CreatedAt) {
				newest = rest
			}
		}
		if newest != nil {
			r.active = newest.ID
		}
	}
	r.mu.Unlock()

	s.teardown()

	if r.repo != nil {
		if err := r.repo.UpdateStatus(ctx, id, model.SessionStatusClosed); err != nil {
			log.Printf("session[%s]: marking closed failed: %v", id, err)
		}
	}
	return nil
}

// CloseAll tears down every live session.
func (r *Registry) CloseAll(ctx context.Context) {
	for _, s := range r.List() {
		if err := r.Close(ctx, s.ID); err != nil {
			log.Printf("session[%s]: close failed: %v", s.ID, err)
		}
	}
}

// teardown releases the session's consumers and transport in reverse wiring
// order.
func (s *Session) teardown() {
	s.Status.Close()
	s.Uploader.Close()
	s.Files.Close()
	s.Terminal.Close()
	if s.offRec != nil {
		s.offRec()
	}
	s.Channel.Disconnect()
	if s.rec != nil {
		s.rec.Close()
	}
}
