package transfer

import (
	"encoding/json"
	"io"
	"log"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wwng2333/nexus-terminal-sub000/internal/model"
	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
)

// DefaultRemoveDelay is the grace period a finished transfer stays visible
// in the active set, so the UI can reflect the final status.
const DefaultRemoveDelay = 3 * time.Second

// UploaderConfig configures an Uploader.
type UploaderConfig struct {
	ChunkSize   int
	RemoveDelay time.Duration
}

// Uploader is the upload consumer of one session: it owns the active
// transfers and routes inbound upload:* messages to them by transfer id.
type Uploader struct {
	bus Bus
	cfg UploaderConfig

	mu        sync.Mutex
	transfers map[string]*Transfer
	offs      []func()
	closed    bool

	// onUploaded is invoked with the destination directory after a
	// successful upload, to let the file browser refresh its listing.
	onUploaded func(dir string)
}

// NewUploader creates the upload consumer and registers its message
// handlers on the session channel.
func NewUploader(b Bus, cfg UploaderConfig) *Uploader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.RemoveDelay <= 0 {
		cfg.RemoveDelay = DefaultRemoveDelay
	}
	u := &Uploader{
		bus:       b,
		cfg:       cfg,
		transfers: make(map[string]*Transfer),
	}

	u.offs = []func(){
		b.On(protocol.TypeUploadReady, u.handleReady),
		b.On(protocol.TypeUploadSuccess, u.handleSuccess),
		b.On(protocol.TypeUploadError, u.handleError),
		b.On(protocol.TypeUploadPause, u.handlePause),
		b.On(protocol.TypeUploadResume, u.handleResume),
		b.On(protocol.TypeUploadCancelled, u.handleCancelled),
	}
	return u
}

// SetOnUploaded sets the post-upload directory refresh hook.
func (u *Uploader) SetOnUploaded(fn func(dir string)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onUploaded = fn
}

// Upload starts a chunked upload of src to dest. The transfer stays pending
// until the gateway acknowledges with upload:ready.
func (u *Uploader) Upload(dest string, src io.ReaderAt, size int64) (*Transfer, error) {
	t := newTransfer(uuid.New().String(), dest, src, size, u.bus, u.cfg.ChunkSize)

	msg, err := protocol.New(protocol.TypeUploadStart, protocol.UploadStartPayload{
		TransferID: t.id,
		Path:       dest,
		Size:       size,
	})
	if err != nil {
		return nil, err
	}
	if err := u.bus.Send(msg); err != nil {
		return nil, err
	}

	u.mu.Lock()
	u.transfers[t.id] = t
	u.mu.Unlock()
	return t, nil
}

// Get returns the transfer with the given id.
func (u *Uploader) Get(id string) (*Transfer, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.transfers[id]
	return t, ok
}

// List returns all transfers currently in the active set.
func (u *Uploader) List() []*Transfer {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]*Transfer, 0, len(u.transfers))
	for _, t := range u.transfers {
		out = append(out, t)
	}
	return out
}

// Pause pauses the transfer with the given id.
func (u *Uploader) Pause(id string) error {
	t, ok := u.Get(id)
	if !ok {
		return model.ErrTransferNotFound
	}
	return t.Pause()
}

// Resume resumes the transfer with the given id.
func (u *Uploader) Resume(id string) error {
	t, ok := u.Get(id)
	if !ok {
		return model.ErrTransferNotFound
	}
	return t.Resume()
}

// Cancel cancels the transfer with the given id. The status change is
// immediate and local; the gateway is notified afterwards.
func (u *Uploader) Cancel(id string) error {
	t, ok := u.Get(id)
	if !ok {
		return model.ErrTransferNotFound
	}
	if err := t.Cancel(); err != nil {
		return err
	}
	u.scheduleRemove(t.id)
	return nil
}

// Close unregisters all message handlers and cancels outstanding transfers.
func (u *Uploader) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	offs := u.offs
	u.offs = nil
	transfers := make([]*Transfer, 0, len(u.transfers))
	for _, t := range u.transfers {
		transfers = append(transfers, t)
	}
	u.mu.Unlock()

	for _, off := range offs {
		off()
	}
	for _, t := range transfers {
		if !t.Status().Terminal() {
			t.Cancel()
		}
	}
}

func (u *Uploader) lookup(payload json.RawMessage, msg *protocol.Message) (*Transfer, *protocol.UploadControlPayload) {
	var p protocol.UploadControlPayload
	if err := msg.DecodePayload(&p); err != nil {
		log.Printf("uploader: malformed %s payload: %v", msg.Type, err)
		return nil, nil
	}
	t, ok := u.Get(p.TransferID)
	if !ok {
		log.Printf("uploader: %s for unknown transfer %s", msg.Type, p.TransferID)
		return nil, nil
	}
	return t, &p
}

func (u *Uploader) handleReady(payload json.RawMessage, msg *protocol.Message) {
	if t, _ := u.lookup(payload, msg); t != nil {
		t.start()
	}
}

func (u *Uploader) handleSuccess(payload json.RawMessage, msg *protocol.Message) {
	t, _ := u.lookup(payload, msg)
	if t == nil {
		return
	}
	if t.complete() {
		u.mu.Lock()
		fn := u.onUploaded
		u.mu.Unlock()
		if fn != nil {
			fn(path.Dir(t.dest))
		}
	}
	u.scheduleRemove(t.id)
}

func (u *Uploader) handleError(payload json.RawMessage, msg *protocol.Message) {
	t, p := u.lookup(payload, msg)
	if t == nil {
		return
	}
	t.fail(p.Message)
	u.scheduleRemove(t.id)
}

func (u *Uploader) handlePause(payload json.RawMessage, msg *protocol.Message) {
	if t, _ := u.lookup(payload, msg); t != nil {
		t.Pause()
	}
}

func (u *Uploader) handleResume(payload json.RawMessage, msg *protocol.Message) {
	if t, _ := u.lookup(payload, msg); t != nil {
		t.Resume()
	}
}

func (u *Uploader) handleCancelled(payload json.RawMessage, msg *protocol.Message) {
	t, _ := u.lookup(payload, msg)
	if t == nil {
		return
	}
	// Acknowledgement of a cancel we initiated; already terminal locally.
	if t.Status() != StatusCancelled {
		t.Cancel()
	}
	u.scheduleRemove(t.id)
}

// scheduleRemove drops a finished transfer from the active set after the
// grace period.
func (u *Uploader) scheduleRemove(id string) {
	time.AfterFunc(u.cfg.RemoveDelay, func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		if t, ok := u.transfers[id]; ok && t.Status().Terminal() {
			delete(u.transfers, id)
		}
	})
}
