package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxsec/voxsec/internal/bus"
)

const (
	// pacerWarmup is how much audio is buffered before the first frame is
	// released. Absorbs provider jitter at the start of each utterance.
	pacerWarmup = 300 * time.Millisecond

	// lowWaterFrames is the queue depth below which ai.audio.buffer.low is
	// signalled while the AI is speaking.
	lowWaterFrames = 2
)

// FrameSink receives frames released by the pacer, typically the media-stream
// writer toward the switch. It must not block: a slow sink skews the cadence.
type FrameSink func(Frame)

// Pacer owns the per-call outbound frame queue. Frames are enqueued as the
// provider produces them and released to the sink one per 20 ms of wall-clock
// time, after an initial warmup. On barge-in the queue is drained within one
// frame period and ai.speaking.done is published immediately.
//
// All methods are safe for concurrent use.
type Pacer struct {
	events *bus.Bus
	sink   FrameSink

	mu           sync.Mutex
	queue        []Frame
	releasing    bool
	firstBuffer  time.Time
	speaking     bool
	completeMark bool
	lowSignalled bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewPacer creates a pacer publishing playback events on events and releasing
// frames to sink.
func NewPacer(events *bus.Bus, sink FrameSink) *Pacer {
	return &Pacer{
		events: events,
		sink:   sink,
		done:   make(chan struct{}),
	}
}

// Start launches the release loop. It returns immediately; the loop runs
// until ctx is cancelled or Close is called.
func (p *Pacer) Start(ctx context.Context) {
	go p.run(ctx)
}

func (p *Pacer) run(ctx context.Context) {
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case now := <-ticker.C:
			p.tick(now)
		}
	}
}

// tick releases at most one frame per invocation.
func (p *Pacer) tick(now time.Time) {
	p.mu.Lock()

	if len(p.queue) == 0 {
		finished := p.speaking && p.completeMark
		if finished {
			p.speaking = false
			p.completeMark = false
			p.releasing = false
			p.firstBuffer = time.Time{}
		}
		p.mu.Unlock()
		if finished {
			p.events.Publish(bus.Event{Kind: bus.AISpeakingDone, Source: "pacer"})
		}
		return
	}

	// Warmup: hold frames until enough wall-clock time has passed since the
	// utterance started buffering.
	if !p.releasing {
		if now.Sub(p.firstBuffer) < pacerWarmup {
			p.mu.Unlock()
			return
		}
		p.releasing = true
	}

	frame := p.queue[0]
	p.queue = p.queue[1:]
	depth := len(p.queue)
	signalLow := p.speaking && !p.completeMark && depth < lowWaterFrames && !p.lowSignalled
	if signalLow {
		p.lowSignalled = true
	}
	if depth >= lowWaterFrames {
		p.lowSignalled = false
	}
	p.mu.Unlock()

	p.sink(frame)

	if signalLow {
		p.events.Publish(bus.Event{
			Kind:    bus.AIAudioBufferLow,
			Source:  "pacer",
			Payload: map[string]any{"depth": depth},
		})
	}
}

// Enqueue appends one outbound frame. The first frame of an utterance starts
// the warmup clock and marks the AI as speaking.
func (p *Pacer) Enqueue(frame Frame) {
	p.mu.Lock()
	if p.firstBuffer.IsZero() {
		p.firstBuffer = time.Now()
	}
	wasSpeaking := p.speaking
	p.speaking = true
	p.completeMark = false
	p.queue = append(p.queue, frame)
	p.mu.Unlock()

	if !wasSpeaking {
		p.events.Publish(bus.Event{Kind: bus.AISpeakingStarted, Source: "pacer"})
	}
}

// Complete marks the current utterance as fully buffered: once the queue
// empties, ai.speaking.done is published and the pacer re-arms its warmup for
// the next utterance.
func (p *Pacer) Complete() {
	p.mu.Lock()
	p.completeMark = true
	p.mu.Unlock()
}

// Drain discards all queued frames immediately (barge-in). If the AI was
// speaking, ai.speaking.done is published straight away. Returns the number
// of frames discarded.
func (p *Pacer) Drain() int {
	p.mu.Lock()
	n := len(p.queue)
	p.queue = nil
	wasSpeaking := p.speaking
	p.speaking = false
	p.completeMark = false
	p.releasing = false
	p.firstBuffer = time.Time{}
	p.lowSignalled = false
	p.mu.Unlock()

	if wasSpeaking {
		slog.Debug("pacer: drained on barge-in", "frames", n)
		p.events.Publish(bus.Event{Kind: bus.AISpeakingDone, Source: "pacer",
			Payload: map[string]any{"drained": n}})
	}
	return n
}

// Depth returns the current queue depth in frames.
func (p *Pacer) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Speaking reports whether the AI currently has buffered or in-flight speech.
func (p *Pacer) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// Close stops the release loop. Idempotent.
func (p *Pacer) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}
