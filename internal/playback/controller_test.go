package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vozlabs/voz-core/internal/audio"
	"github.com/vozlabs/voz-core/internal/config"
	"github.com/vozlabs/voz-core/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeSink records session boundaries and holds each Play open until its
// context is canceled or the release channel fires.
type fakeSink struct {
	mu      sync.Mutex
	log     []string
	release chan struct{}
	err     error
}

func newFakeSink() *fakeSink {
	return &fakeSink{release: make(chan struct{})}
}

func (f *fakeSink) Play(ctx context.Context, art audio.Artifact) error {
	f.record("play")
	if f.err != nil {
		return f.err
	}
	select {
	case <-ctx.Done():
		f.record("canceled")
		return ctx.Err()
	case <-f.release:
		f.record("finished")
		return nil
	}
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) record(ev string) {
	f.mu.Lock()
	f.log = append(f.log, ev)
	f.mu.Unlock()
}

func (f *fakeSink) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func wavArtifact() *audio.Artifact {
	art := audio.EncodeWAV(audio.GenerateTone(0.05, 8000))
	return &art
}

func newController(t *testing.T, sink Sink, hooks Hooks) *Controller {
	t.Helper()
	eng := engine.NewMockEngine(config.Default().Engine)
	return NewController(sink, eng, hooks, testLogger())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStopBeforeStartOrdering(t *testing.T) {
	sink := newFakeSink()
	c := newController(t, sink, Hooks{})

	if _, err := c.Play(context.Background(), Request{Artifact: wavArtifact()}); err != nil {
		t.Fatalf("first Play: %v", err)
	}
	waitFor(t, func() bool { return len(sink.events()) >= 1 })

	if _, err := c.Play(context.Background(), Request{Artifact: wavArtifact()}); err != nil {
		t.Fatalf("second Play: %v", err)
	}
	waitFor(t, func() bool { return len(sink.events()) >= 3 })

	got := sink.events()[:3]
	want := []string{"play", "canceled", "play"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want prefix %v", got, want)
		}
	}
	c.Stop()
}

func TestOnEndFiresOnceOnManualStop(t *testing.T) {
	sink := newFakeSink()
	var mu sync.Mutex
	ends := 0
	c := newController(t, sink, Hooks{OnEnd: func(string) { mu.Lock(); ends++; mu.Unlock() }})

	if _, err := c.Play(context.Background(), Request{Artifact: wavArtifact()}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, func() bool { return len(sink.events()) >= 1 })

	c.Stop()
	c.Stop() // second stop is a no-op

	mu.Lock()
	defer mu.Unlock()
	if ends != 1 {
		t.Fatalf("OnEnd fired %d times, want 1", ends)
	}
}

func TestOnEndFiresOnNaturalCompletion(t *testing.T) {
	sink := newFakeSink()
	var mu sync.Mutex
	ends := 0
	c := newController(t, sink, Hooks{OnEnd: func(string) { mu.Lock(); ends++; mu.Unlock() }})

	if _, err := c.Play(context.Background(), Request{Artifact: wavArtifact()}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, func() bool { return len(sink.events()) >= 1 })
	close(sink.release)

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return ends == 1 })
	if c.Playing() {
		t.Error("session still marked active after completion")
	}
}

func TestStopWhenIdleIsSilent(t *testing.T) {
	c := newController(t, newFakeSink(), Hooks{})
	c.Stop()
	c.Stop()
	if c.Playing() {
		t.Error("idle controller reports active session")
	}
}

func TestSinkErrorReportsThenEnds(t *testing.T) {
	sink := newFakeSink()
	sink.err = errors.New("device gone")

	var mu sync.Mutex
	var order []string
	c := newController(t, sink, Hooks{
		OnError: func(_ string, err error) { mu.Lock(); order = append(order, "error"); mu.Unlock() },
		OnEnd:   func(string) { mu.Lock(); order = append(order, "end"); mu.Unlock() },
	})

	if _, err := c.Play(context.Background(), Request{Artifact: wavArtifact()}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(order) == 2 })

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "error" || order[1] != "end" {
		t.Fatalf("order = %v, want [error end]", order)
	}
}

func TestTextOnlyRequestUsesEngine(t *testing.T) {
	sink := newFakeSink()
	var mu sync.Mutex
	ends := 0
	c := newController(t, sink, Hooks{OnEnd: func(string) { mu.Lock(); ends++; mu.Unlock() }})

	if _, err := c.Play(context.Background(), Request{Text: "hola mundo"}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return ends == 1 })
	if len(sink.events()) != 0 {
		t.Errorf("sink saw %v for a text-only request", sink.events())
	}
}

// overlapSink holds each render open briefly and tracks how many are
// active at once.
type overlapSink struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (s *overlapSink) Play(ctx context.Context, art audio.Artifact) error {
	s.mu.Lock()
	s.active++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
		return nil
	}
}

func (s *overlapSink) Close() error { return nil }

func TestConcurrentPlayCallsNeverOverlap(t *testing.T) {
	sink := &overlapSink{}
	c := newController(t, sink, Hooks{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Play(context.Background(), Request{Artifact: wavArtifact()}); err != nil {
				t.Errorf("Play: %v", err)
			}
		}()
	}
	wg.Wait()
	c.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.maxSeen > 1 {
		t.Fatalf("%d sessions rendered at once, want at most 1", sink.maxSeen)
	}
}

func TestEmptyRequestRejected(t *testing.T) {
	c := newController(t, newFakeSink(), Hooks{})
	if _, err := c.Play(context.Background(), Request{}); !errors.Is(err, ErrNothingToPlay) {
		t.Fatalf("err = %v, want ErrNothingToPlay", err)
	}
}
