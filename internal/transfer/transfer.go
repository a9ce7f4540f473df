// Package transfer drives chunked file uploads over a session channel, from
// file selection through acknowledgement-gated chunk delivery to a terminal
// state.
package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/wwng2333/nexus-terminal-sub000/internal/model"
	"github.com/wwng2333/nexus-terminal-sub000/internal/protocol"
)

// Status represents the state of one upload.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusPaused    Status = "paused"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal status. Once terminal, a transfer
// is immutable.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// DefaultChunkSize is the raw (pre-encoding) size of one upload chunk.
const DefaultChunkSize = 64 * 1024

// Bus is the subset of the session channel a transfer needs.
type Bus interface {
	Send(msg *protocol.Message) error
	On(msgType string, fn func(payload json.RawMessage, msg *protocol.Message)) func()
}

// Transfer is the state machine for one chunked upload. Chunk emission runs
// on its own goroutine once the gateway acknowledges upload:start; pause,
// resume and cancel steer it through the status field. Each restart bumps
// the pump generation so a superseded pump cannot commit stale progress.
type Transfer struct {
	id        string
	dest      string
	size      int64
	src       io.ReaderAt
	bus       Bus
	chunkSize int

	mu     sync.Mutex
	status Status
	offset int64
	seq    int
	gen    int
	errMsg string
}

func newTransfer(id, dest string, src io.ReaderAt, size int64, bus Bus, chunkSize int) *Transfer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Transfer{
		id:        id,
		dest:      dest,
		size:      size,
		src:       src,
		bus:       bus,
		chunkSize: chunkSize,
		status:    StatusPending,
	}
}

// ID returns the transfer id, unique per invocation.
func (t *Transfer) ID() string { return t.id }

// Dest returns the destination path on the remote host.
func (t *Transfer) Dest() string { return t.dest }

// Size returns the total byte size of the source file.
func (t *Transfer) Size() int64 { return t.size }

// Status returns the current status.
func (t *Transfer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Progress returns the upload progress as a percentage of decoded bytes.
func (t *Transfer) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.size == 0 {
		if t.seq > 0 {
			return 100
		}
		return 0
	}
	return int(t.offset * 100 / t.size)
}

// Err returns the recorded error message, if the transfer failed.
func (t *Transfer) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// start begins chunk emission. Called when the gateway sends upload:ready.
func (t *Transfer) start() {
	t.mu.Lock()
	if t.status != StatusPending {
		t.mu.Unlock()
		return
	}
	t.status = StatusUploading
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	go t.pump(gen)
}

// pump emits chunks sequentially: read, send, advance, until the last chunk
// or a status change stops it. The next chunk is only computed after the
// current read completes.
func (t *Transfer) pump(gen int) {
	for {
		t.mu.Lock()
		if gen != t.gen || t.status != StatusUploading {
			t.mu.Unlock()
			return
		}
		offset := t.offset
		seq := t.seq
		t.mu.Unlock()

		remaining := t.size - offset
		chunkLen := int64(t.chunkSize)
		if remaining < chunkLen {
			chunkLen = remaining
		}

		buf := make([]byte, chunkLen)
		if chunkLen > 0 {
			n, err := t.src.ReadAt(buf, offset)
			if err != nil && !(err == io.EOF && int64(n) == chunkLen) {
				t.fail(fmt.Sprintf("read failed at offset %d: %v", offset, err))
				return
			}
			buf = buf[:n]
		}

		// The read may have blocked; a pause or cancel issued meanwhile
		// must stop emission before this chunk goes out.
		t.mu.Lock()
		if gen != t.gen || t.status != StatusUploading {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		// A zero-byte file is a single empty chunk with isLast set.
		isLast := offset+int64(len(buf)) >= t.size

		msg, err := protocol.New(protocol.TypeUploadChunk, protocol.UploadChunkPayload{
			TransferID: t.id,
			Seq:        seq,
			Data:       buf,
			IsLast:     isLast,
		})
		if err != nil {
			t.fail(fmt.Sprintf("encoding chunk %d: %v", seq, err))
			return
		}
		if err := t.bus.Send(msg); err != nil {
			t.fail(fmt.Sprintf("sending chunk %d: %v", seq, err))
			return
		}

		t.mu.Lock()
		if gen != t.gen || t.status != StatusUploading {
			t.mu.Unlock()
			return
		}
		// Advance by the decoded chunk size so progress stays accurate.
		t.offset = offset + int64(len(buf))
		t.seq = seq + 1
		t.mu.Unlock()

		if isLast {
			return
		}
	}
}

// Pause stops chunk emission. No chunks are emitted while paused.
func (t *Transfer) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return model.ErrTransferFinished
	}
	if t.status != StatusUploading {
		return nil
	}
	t.status = StatusPaused
	t.gen++
	return nil
}

// Resume restarts chunk emission from the beginning of the file. Byte-offset
// resume is not negotiated with the receiver; this is a known limitation.
func (t *Transfer) Resume() error {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return model.ErrTransferFinished
	}
	if t.status != StatusPaused {
		t.mu.Unlock()
		return nil
	}
	t.status = StatusUploading
	t.offset = 0
	t.seq = 0
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	go t.pump(gen)
	return nil
}

// Cancel marks the transfer cancelled immediately (optimistic, before any
// acknowledgement from the far end) and then notifies the gateway. A later
// inbound cancellation acknowledgement does not change state.
func (t *Transfer) Cancel() error {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return model.ErrTransferFinished
	}
	t.status = StatusCancelled
	t.gen++
	t.mu.Unlock()

	msg, _ := protocol.New(protocol.TypeUploadCancel, protocol.UploadControlPayload{TransferID: t.id})
	if err := t.bus.Send(msg); err != nil {
		log.Printf("transfer[%s]: cancel notification failed: %v", t.id, err)
	}
	return nil
}

// complete records a successful upload. Returns false if the transfer was
// already terminal.
func (t *Transfer) complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusUploading {
		return false
	}
	t.status = StatusSuccess
	t.offset = t.size
	t.gen++
	return true
}

// fail records an error and halts chunk emission. No effect once terminal.
func (t *Transfer) fail(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = StatusError
	t.errMsg = msg
	t.gen++
}
