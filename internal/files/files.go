// Package files is the file-action consumer of a workspace session: remote
// directory listing and manipulation over correlated request/response pairs.
package files

import (
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/wwng2333/nexus-terminal-sub000/internal/model"
	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
	"github.com/wwng2333/nexus-terminal-sub000/internal/request"
)

// Bus is the subset of the session channel the file consumer needs.
type Bus interface {
	Send(msg *protocol.Message) error
	On(msgType string, fn func(payload json.RawMessage, msg *protocol.Message)) func()
	SFTPReady() bool
}

// Files issues remote file operations. Every operation is a correlated
// request carrying the target path as secondary key, so concurrent
// operations against different paths never cross-resolve.
type Files struct {
	bus  Bus
	corr *request.Correlator

	mu    sync.Mutex
	cwd   string
	onCwd func(cwd string)
}

// New creates the file-action consumer. timeout <= 0 selects the
// correlator default.
func New(bus Bus, timeout time.Duration) *Files {
	return &Files{
		bus:  bus,
		corr: request.New(bus, timeout),
		cwd:  "/",
	}
}

// Cwd returns the current working directory for file browsing.
func (f *Files) Cwd() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cwd
}

// SetOnCwdChange sets the callback invoked when the browsing directory
// changes. The session registry uses it to persist the directory.
func (f *Files) SetOnCwdChange(fn func(cwd string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCwd = fn
}

// List fetches the directory listing for p and makes it the current
// working directory.
func (f *Files) List(p string) ([]protocol.FileEntry, error) {
	if !f.bus.SFTPReady() {
		return nil, model.ErrSFTPNotReady
	}

	payload, err := f.corr.Do(protocol.TypeSFTPList, protocol.ListPayload{Path: p}, request.Options{
		Success: protocol.TypeSFTPListSuccess,
		Error:   protocol.TypeSFTPListError,
		Path:    p,
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", p, err)
	}

	var result protocol.ListResultPayload
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decoding listing for %s: %w", p, err)
	}

	f.mu.Lock()
	changed := f.cwd != result.Path
	f.cwd = result.Path
	onCwd := f.onCwd
	f.mu.Unlock()
	if changed && onCwd != nil {
		onCwd(result.Path)
	}

	return result.Entries, nil
}

// Refresh re-lists the current working directory. Invoked after a
// successful upload into it.
func (f *Files) Refresh() ([]protocol.FileEntry, error) {
	return f.List(f.Cwd())
}

// Delete removes the remote file or empty directory at p.
func (f *Files) Delete(p string) error {
	return f.do(protocol.TypeSFTPDelete, protocol.TypeSFTPDeleteSuccess, protocol.TypeSFTPDeleteError,
		protocol.PathPayload{Path: p}, p)
}

// Mkdir creates a remote directory at p.
func (f *Files) Mkdir(p string) error {
	return f.do(protocol.TypeSFTPMkdir, protocol.TypeSFTPMkdirSuccess, protocol.TypeSFTPMkdirError,
		protocol.PathPayload{Path: p}, p)
}

// Rename moves the remote file at old to new.
func (f *Files) Rename(old, new string) error {
	return f.do(protocol.TypeSFTPRename, protocol.TypeSFTPRenameSuccess, protocol.TypeSFTPRenameError,
		protocol.RenamePayload{Path: old, NewPath: new}, old)
}

func (f *Files) do(msgType, successType, errorType string, payload any, key string) error {
	if !f.bus.SFTPReady() {
		return model.ErrSFTPNotReady
	}
	_, err := f.corr.Do(msgType, payload, request.Options{
		Success: successType,
		Error:   errorType,
		Path:    key,
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", msgType, key, err)
	}
	return nil
}

// Close drops the cwd-change callback. Request handlers are one-shot and
// unregister themselves, so nothing else needs releasing.
func (f *Files) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCwd = nil
}

// UploadDir returns the directory an upload of name should target, rooted
// at the current working directory.
func (f *Files) UploadDir(name string) string {
	return path.Join(f.Cwd(), name)
}
