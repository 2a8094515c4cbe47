package resilience

import (
	"context"

	"github.com/voxsec/voxsec/internal/callog"
)

// GuardedSink delivers call records through a primary sink, failing over to
// secondaries when the primary errors or its breaker is open. Records are
// keyed by call uuid and sinks deduplicate on it, so a retry landing twice
// is harmless.
type GuardedSink struct {
	group *FallbackGroup[callog.Sink]
}

var _ callog.Sink = (*GuardedSink)(nil)

// NewGuardedSink creates a GuardedSink with primary as the first entry.
func NewGuardedSink(primary callog.Sink, name string, cfg FallbackConfig) *GuardedSink {
	return &GuardedSink{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers a lower-priority sink.
func (s *GuardedSink) AddFallback(name string, sink callog.Sink) {
	s.group.AddFallback(name, sink)
}

// Deliver implements [callog.Sink].
func (s *GuardedSink) Deliver(ctx context.Context, rec *callog.Record) error {
	return s.group.Execute(func(sink callog.Sink) error {
		return sink.Deliver(ctx, rec)
	})
}
