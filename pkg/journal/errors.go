// Package journal keeps an append-only audit trail of budget events
// (reconstructions, merges, session activity) in CRC-framed log files
package journal

import "errors"

var (
	// ErrCorrupted indicates a record whose checksum does not match
	ErrCorrupted = errors.New("journal: corrupted record")

	// ErrTruncated indicates a record cut short, usually a torn final write
	ErrTruncated = errors.New("journal: truncated record")

	// ErrClosed indicates an operation on a closed journal
	ErrClosed = errors.New("journal: closed")
)
