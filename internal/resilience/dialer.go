package resilience

import (
	"context"

	"github.com/voxsec/voxsec/internal/bus"
	"github.com/voxsec/voxsec/internal/provider/realtime"
)

// Dialer composes a primary realtime dialer with zero or more fallbacks
// behind per-entry circuit breakers. A provider outage fails new calls over
// to the next healthy entry instead of refusing them; a tripped primary is
// bypassed immediately until its reset timeout elapses.
//
// Failover only applies to session establishment. An already connected
// session keeps its own reconnect policy.
type Dialer struct {
	group *FallbackGroup[realtime.Dialer]
}

var _ realtime.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer with primary as the first entry.
func NewDialer(primary realtime.Dialer, name string, cfg FallbackConfig) *Dialer {
	return &Dialer{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback registers a lower-priority dialer, tried after all earlier
// entries.
func (d *Dialer) AddFallback(name string, dialer realtime.Dialer) {
	d.group.AddFallback(name, dialer)
}

// Connect implements [realtime.Dialer].
func (d *Dialer) Connect(ctx context.Context, cfg realtime.SessionConfig, events *bus.Bus) (realtime.Handle, error) {
	return ExecuteWithResult(d.group, func(dl realtime.Dialer) (realtime.Handle, error) {
		return dl.Connect(ctx, cfg, events)
	})
}
