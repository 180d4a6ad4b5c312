// Package state holds the runtime state shared between the command bridge
// and the two device loops. Everything here is lock-free and safe for
// concurrent use; nothing is persisted.
package state

import "sync/atomic"

// CaptureFlag is a one-shot capture request. Any number of requests made
// before the capture loop next polls collapse into a single capture.
type CaptureFlag struct {
	pending atomic.Bool
}

// Request marks a capture as pending.
func (f *CaptureFlag) Request() {
	f.pending.Store(true)
}

// Consume clears a pending request and reports whether there was one.
// Concurrent callers never both observe true for the same request.
func (f *CaptureFlag) Consume() bool {
	return f.pending.CompareAndSwap(true, false)
}

// Pending reports whether a request is waiting, without clearing it.
func (f *CaptureFlag) Pending() bool {
	return f.pending.Load()
}
