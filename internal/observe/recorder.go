package observe

import (
	"context"
	"sync"
	"time"

	"github.com/voxsec/voxsec/internal/bus"
)

// Observe attaches metric recording to one call's event bus. Tool and
// transfer instruments are driven from the events the components already
// publish; the owning session records call start and finish itself.
func (m *Metrics) Observe(tenant string, b *bus.Bus) {
	ctx := context.Background()

	record := func(status string) func(bus.Event) {
		return func(evt bus.Event) {
			tool, _ := evt.Payload["tool"].(string)
			ms, _ := evt.Payload["duration_ms"].(int64)
			m.RecordTool(ctx, tool, status, time.Duration(ms)*time.Millisecond)
		}
	}
	b.Subscribe(bus.ToolCompleted, record("ok"))
	b.Subscribe(bus.ToolFailed, record("error"))

	var mu sync.Mutex
	var transferStart time.Time
	b.Subscribe(bus.TransferRequested, func(bus.Event) {
		mu.Lock()
		transferStart = time.Now()
		mu.Unlock()
	})
	result := func(name string) func(bus.Event) {
		return func(bus.Event) {
			mu.Lock()
			var elapsed time.Duration
			if !transferStart.IsZero() {
				elapsed = time.Since(transferStart)
				transferStart = time.Time{}
			}
			mu.Unlock()
			m.RecordTransfer(ctx, tenant, name, elapsed)
		}
	}
	b.Subscribe(bus.TransferCompleted, result("bridged"))
	b.Subscribe(bus.TransferTimeout, result("timeout"))
	b.Subscribe(bus.TransferFailed, result("failed"))

	b.Subscribe(bus.ProviderTimeout, func(bus.Event) {
		m.RecordProviderError(ctx, "timeout")
	})
	b.Subscribe(bus.ConnectionLost, func(bus.Event) {
		m.RecordProviderError(ctx, "connection_lost")
	})
}
