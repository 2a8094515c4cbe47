package audio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/voxsec/voxsec/internal/bus"
)

type frameRecorder struct {
	mu     sync.Mutex
	times  []time.Time
	frames []Frame
}

func (r *frameRecorder) sink(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, time.Now())
	r.frames = append(r.frames, f)
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.times)
}

func (r *frameRecorder) releaseTimes() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Time(nil), r.times...)
}

func testFrame() Frame {
	return Frame{SampleRate: 8000, Encoding: EncodingULaw, Direction: ToSwitch, Data: make([]byte, 160)}
}

func TestPacer_WarmupHoldsFrames(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()
	rec := &frameRecorder{}
	p := NewPacer(b, rec.sink)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	start := time.Now()
	for range 5 {
		p.Enqueue(testFrame())
	}

	// Nothing may be released during the warmup window.
	time.Sleep(150 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("%d frames released during warmup", rec.count())
	}

	// Wait until the first release and verify warmup elapsed first.
	deadline := time.Now().Add(2 * time.Second)
	for rec.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	times := rec.releaseTimes()
	if len(times) == 0 {
		t.Fatal("no frames released after warmup")
	}
	if since := times[0].Sub(start); since < 250*time.Millisecond {
		t.Errorf("first release after %v, want >= ~300ms warmup", since)
	}
}

func TestPacer_SteadyCadence(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()
	rec := &frameRecorder{}
	p := NewPacer(b, rec.sink)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	const n = 20
	for range n {
		p.Enqueue(testFrame())
	}

	deadline := time.Now().Add(3 * time.Second)
	for rec.count() < n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	times := rec.releaseTimes()
	if len(times) < n {
		t.Fatalf("released %d frames, want %d", len(times), n)
	}

	// Average inter-release time should be one frame duration. Individual
	// gaps are allowed scheduler jitter.
	total := times[n-1].Sub(times[0])
	avg := total / time.Duration(n-1)
	if avg < 15*time.Millisecond || avg > 30*time.Millisecond {
		t.Errorf("average cadence = %v, want ~20ms", avg)
	}
}

func TestPacer_SpeakingStartedOnFirstFrame(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()

	var started int
	b.Subscribe(bus.AISpeakingStarted, func(bus.Event) { started++ })

	p := NewPacer(b, func(Frame) {})
	defer p.Close()

	p.Enqueue(testFrame())
	p.Enqueue(testFrame())

	if started != 1 {
		t.Errorf("ai.speaking.started published %d times, want 1", started)
	}
}

func TestPacer_DrainEmitsSpeakingDoneImmediately(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()

	var done int
	b.Subscribe(bus.AISpeakingDone, func(bus.Event) { done++ })

	p := NewPacer(b, func(Frame) {})
	defer p.Close()

	for range 8 {
		p.Enqueue(testFrame())
	}
	if n := p.Drain(); n != 8 {
		t.Errorf("Drain returned %d, want 8", n)
	}
	if p.Depth() != 0 {
		t.Errorf("queue depth after drain = %d, want 0", p.Depth())
	}
	if done != 1 {
		t.Errorf("ai.speaking.done published %d times, want 1", done)
	}

	// A drain with nothing speaking is silent.
	if p.Drain() != 0 {
		t.Error("second drain should discard nothing")
	}
	if done != 1 {
		t.Errorf("ai.speaking.done republished on empty drain")
	}
}

func TestPacer_BufferLowSignalledWhileSpeaking(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()

	lowCh := make(chan bus.Event, 4)
	b.Subscribe(bus.AIAudioBufferLow, func(evt bus.Event) { lowCh <- evt })

	rec := &frameRecorder{}
	p := NewPacer(b, rec.sink)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	// Only 3 frames: the queue runs below the low-water mark while the
	// utterance is still open (Complete not called).
	for range 3 {
		p.Enqueue(testFrame())
	}

	select {
	case <-lowCh:
	case <-time.After(2 * time.Second):
		t.Fatal("ai.audio.buffer.low not signalled")
	}
}

func TestPacer_CompleteEmitsSpeakingDoneWhenQueueEmpties(t *testing.T) {
	b := bus.New("call-1")
	defer b.Close()

	doneCh := make(chan bus.Event, 1)
	b.Subscribe(bus.AISpeakingDone, func(evt bus.Event) { doneCh <- evt })

	p := NewPacer(b, func(Frame) {})
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Enqueue(testFrame())
	p.Complete()

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("ai.speaking.done not published after Complete + queue empty")
	}
	if p.Speaking() {
		t.Error("pacer still speaking after utterance completed")
	}
}
