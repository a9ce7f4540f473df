// Package protocol defines the JSON message envelope exchanged with a gateway.
package protocol

import "encoding/json"

// Message type constants. Types with :success/:error suffixes form
// request/response pairs and must echo the originating requestId.
const (
	// Session establishment
	TypeSessionConnect   = "session:connect"
	TypeSessionConnected = "session:connected"

	// Terminal
	TypeTerminalData   = "terminal:data"
	TypeTerminalInput  = "terminal:input"
	TypeTerminalResize = "terminal:resize"
	TypeTerminalExit   = "terminal:exit"

	// File subsystem
	TypeSFTPReady         = "sftp:ready"
	TypeSFTPList          = "sftp:list"
	TypeSFTPListSuccess   = "sftp:list:success"
	TypeSFTPListError     = "sftp:list:error"
	TypeSFTPDelete        = "sftp:delete"
	TypeSFTPDeleteSuccess = "sftp:delete:success"
	TypeSFTPDeleteError   = "sftp:delete:error"
	TypeSFTPMkdir         = "sftp:mkdir"
	TypeSFTPMkdirSuccess  = "sftp:mkdir:success"
	TypeSFTPMkdirError    = "sftp:mkdir:error"
	TypeSFTPRename        = "sftp:rename"
	TypeSFTPRenameSuccess = "sftp:rename:success"
	TypeSFTPRenameError   = "sftp:rename:error"

	// Chunked upload sub-protocol
	TypeUploadStart     = "upload:start"
	TypeUploadReady     = "upload:ready"
	TypeUploadChunk     = "upload:chunk"
	TypeUploadSuccess   = "upload:success"
	TypeUploadError     = "upload:error"
	TypeUploadPause     = "upload:pause"
	TypeUploadResume    = "upload:resume"
	TypeUploadCancel    = "upload:cancel"
	TypeUploadCancelled = "upload:cancelled"

	// Status monitoring
	TypeStatusRequest = "status:request"
	TypeStatusUpdate  = "status:update"
)

// Message is the envelope for every message exchanged with the gateway.
// Unknown top-level fields are permitted and ignored by generic dispatch.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

// New builds a message of the given type with a marshaled payload.
// A nil payload produces an envelope without a payload field.
func New(msgType string, payload any) (*Message, error) {
	msg := &Message{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = data
	}
	return msg, nil
}

// DecodePayload unmarshals the message payload into v.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// ConnectPayload is sent with session:connect immediately on transport open.
type ConnectPayload struct {
	TargetID string `json:"targetId"`
}

// TerminalDataPayload carries terminal output pushed by the gateway.
type TerminalDataPayload struct {
	Data string `json:"data"`
}

// TerminalInputPayload carries keystrokes destined for the remote shell.
type TerminalInputPayload struct {
	Data string `json:"data"`
}

// TerminalResizePayload carries a window size change.
type TerminalResizePayload struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// TerminalExitPayload reports remote shell termination.
type TerminalExitPayload struct {
	Code int `json:"code"`
}

// ErrorPayload is the payload shape of every :error response.
type ErrorPayload struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// FileEntry is one row of a directory listing.
type FileEntry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Mode    string `json:"mode"`
	IsDir   bool   `json:"isDir"`
	ModTime int64  `json:"modTime"`
}

// ListPayload requests a directory listing.
type ListPayload struct {
	Path string `json:"path"`
}

// ListResultPayload is the sftp:list:success payload.
type ListResultPayload struct {
	Path    string      `json:"path"`
	Entries []FileEntry `json:"entries"`
}

// PathPayload addresses a single remote path (delete, mkdir).
type PathPayload struct {
	Path string `json:"path"`
}

// RenamePayload addresses a rename of one remote path.
type RenamePayload struct {
	Path    string `json:"path"`
	NewPath string `json:"newPath"`
}

// UploadStartPayload opens a chunked upload.
type UploadStartPayload struct {
	TransferID string `json:"transferId"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
}

// UploadChunkPayload carries one chunk of upload data. Data is base64 on the
// wire; Seq starts at zero and increases by one per chunk.
type UploadChunkPayload struct {
	TransferID string `json:"transferId"`
	Seq        int    `json:"seq"`
	Data       []byte `json:"data"`
	IsLast     bool   `json:"isLast"`
}

// UploadControlPayload addresses an in-flight transfer (ready, pause,
// resume, cancel, cancelled, success).
type UploadControlPayload struct {
	TransferID string `json:"transferId"`
	Message    string `json:"message,omitempty"`
}

// StatusPayload is the status:update payload: a point-in-time snapshot of
// the remote host.
type StatusPayload struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemUsed    uint64  `json:"memUsed"`
	MemTotal   uint64  `json:"memTotal"`
	LoadAvg    float64 `json:"loadAvg"`
	Uptime     int64   `json:"uptime"`
}
