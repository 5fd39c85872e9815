// Package secondary implements best-effort secondary persistence: a copy of
// selected memories written to a relational table for structured access.
//
// The vector store stays the primary record. A failed secondary write is
// reported on the policy's own error channel and never fails the memory add.
package secondary

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// DefaultTypes are the memory types copied to the secondary store when no
// list is configured.
var DefaultTypes = []string{
	"opportunity_evaluation",
	"opportunity_reflection",
	"lessons_learned",
	"application_draft",
}

// Entry is one memory as written to the secondary store.
type Entry struct {
	// MemoryID is the id of the first point created for the memory.
	MemoryID string

	SourceID  string
	Text      string
	Type      string
	Timestamp time.Time

	// Metadata is the caller metadata as supplied to the add.
	Metadata map[string]interface{}
}

// Writer persists entries.
type Writer interface {
	Write(ctx context.Context, entry *Entry) error
	Close() error
}

// ErrorHandler receives failed secondary writes.
type ErrorHandler func(entry *Entry, err error)

// BestEffort is the best-effort secondary persistence policy: entries of
// the configured types are written, failures go to the error handler, and
// Apply never returns an error.
type BestEffort struct {
	writer  Writer
	types   map[string]struct{}
	onError ErrorHandler
	timeout time.Duration

	failures atomic.Int64
	writes   atomic.Int64
}

// Option configures a BestEffort policy.
type Option func(*BestEffort)

// WithTypes restricts the policy to the given memory types.
func WithTypes(types ...string) Option {
	return func(b *BestEffort) {
		b.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			b.types[t] = struct{}{}
		}
	}
}

// WithErrorHandler replaces the default logging handler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(b *BestEffort) {
		b.onError = h
	}
}

// WithTimeout bounds each secondary write. Defaults to 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(b *BestEffort) {
		b.timeout = d
	}
}

// NewBestEffort wraps writer in the best-effort policy.
func NewBestEffort(writer Writer, opts ...Option) *BestEffort {
	b := &BestEffort{
		writer:  writer,
		timeout: 5 * time.Second,
		onError: func(entry *Entry, err error) {
			log.Printf("[SECONDARY] Save failed (non-critical): memory_id=%s, type=%s, error=%v",
				entry.MemoryID, entry.Type, err)
		},
	}
	WithTypes(DefaultTypes...)(b)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Accepts reports whether entries of memoryType are copied.
func (b *BestEffort) Accepts(memoryType string) bool {
	if b == nil {
		return false
	}
	_, ok := b.types[memoryType]
	return ok
}

// Apply writes entry if its type is accepted. It reports whether a write
// was attempted and succeeded.
func (b *BestEffort) Apply(ctx context.Context, entry *Entry) bool {
	if !b.Accepts(entry.Type) {
		return false
	}

	// The primary write already happened; a cancelled caller does not undo it.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	if err := b.writer.Write(writeCtx, entry); err != nil {
		b.failures.Add(1)
		b.onError(entry, err)
		return false
	}

	b.writes.Add(1)
	log.Printf("[SECONDARY] Memory also saved: memory_id=%s, type=%s", entry.MemoryID, entry.Type)
	return true
}

// Failures returns the number of failed secondary writes.
func (b *BestEffort) Failures() int64 {
	if b == nil {
		return 0
	}
	return b.failures.Load()
}

// Writes returns the number of successful secondary writes.
func (b *BestEffort) Writes() int64 {
	if b == nil {
		return 0
	}
	return b.writes.Load()
}

// Close closes the underlying writer.
func (b *BestEffort) Close() error {
	if b == nil || b.writer == nil {
		return nil
	}
	return b.writer.Close()
}
