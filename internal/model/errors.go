package model

import "errors"

var (
	// ErrTargetRequired is returned when an open request is missing the target id.
	ErrTargetRequired = errors.New("target id is required")

	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotConnected is returned when an operation requires a connected channel.
	ErrNotConnected = errors.New("channel is not connected")

	// ErrSFTPNotReady is returned when a file operation is attempted before the
	// remote file subsystem has signalled readiness.
	ErrSFTPNotReady = errors.New("file subsystem is not ready")

	// ErrTransferNotFound is returned when a transfer id is unknown.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrTransferFinished is returned when a control action targets a transfer
	// that already reached a terminal state.
	ErrTransferFinished = errors.New("transfer already finished")
)
