// Package audit provides append-only audit sinks for firewall verdicts.
// Records carry only the request id, the action, the applied policy ids,
// and the detection count — never the evaluated text nor the canonical
// surfaces.
package audit

import (
	"context"
	"time"
)

// Record is one append-only audit entry.
type Record struct {
	RequestID        string    `json:"request_id"`
	Action           string    `json:"action"`
	AppliedPolicyIDs []string  `json:"applied_policy_ids"`
	DetectionCount   int       `json:"detection_count"`
	Timestamp        time.Time `json:"timestamp"`
}

// Sink receives audit records. Implementations must be safe for concurrent
// use; the firewall emits from every request.
type Sink interface {
	Emit(ctx context.Context, rec Record) error
	Close() error
}

// NopSink discards every record.
type NopSink struct{}

// Emit discards the record.
func (NopSink) Emit(context.Context, Record) error { return nil }

// Close is a no-op.
func (NopSink) Close() error { return nil }

// MultiSink fans records out to several sinks. Emit returns the first
// error but still delivers to every sink.
type MultiSink []Sink

// Emit delivers the record to each sink.
func (m MultiSink) Emit(ctx context.Context, rec Record) error {
	var first error
	for _, s := range m {
		if err := s.Emit(ctx, rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes each sink, returning the first error.
func (m MultiSink) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
