// Package screrr defines the error-kind taxonomy used across the fetch
// core so callers can tell a retryable storage failure from a fatal
// configuration or post-fetch error with errors.Is.
package screrr

import "errors"

// Sentinel kinds. Errors the core raises itself wrap one of these with
// %w; errors from the messaging fabric are passed up without a kind.
var (
	// ErrConfiguration signals a missing or empty fetch directory or
	// other setup problem. The driver fails without touching the index.
	ErrConfiguration = errors.New("scr: configuration error")

	// ErrCatalog signals the index file itself could not be read.
	ErrCatalog = errors.New("scr: catalog unreadable")

	// ErrParse signals an unreadable checkpoint directory or a summary
	// document that failed to parse.
	ErrParse = errors.New("scr: parse error")

	// ErrIO signals an open/seek/read/write/close failure during a
	// fetch.
	ErrIO = errors.New("scr: i/o error")

	// ErrCRC signals a CRC32 mismatch on a fetched file.
	ErrCRC = errors.New("scr: crc32 mismatch")

	// ErrRedundancy signals the post-fetch redundancy-apply step
	// failed. Never retried.
	ErrRedundancy = errors.New("scr: redundancy apply failed")
)

// Retryable reports whether a failure of this kind should cause the
// Attempt Driver to try an older checkpoint, per the recovery rule in
// spec.md §7: only storage-layer failures during the fetch phase retry.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrParse), errors.Is(err, ErrIO), errors.Is(err, ErrCRC):
		return true
	default:
		return false
	}
}
