package capture

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/vozlabs/voz-core/internal/audio"
	"github.com/vozlabs/voz-core/internal/config"
	"github.com/vozlabs/voz-core/internal/engine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeSynth counts calls and either returns a fixed artifact or an error.
type fakeSynth struct {
	calls int
	art   audio.Artifact
	err   error
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, language string) (audio.Artifact, error) {
	f.calls++
	return f.art, f.err
}

// downEngine refuses to speak, standing in for a host with no speech support.
type downEngine struct{}

func (downEngine) Speak(context.Context, engine.SpeakRequest) (<-chan engine.Event, error) {
	return nil, engine.ErrEngineUnavailable
}
func (downEngine) Voices() []engine.Voice { return nil }
func (downEngine) Cancel()                {}

func firedTimer(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func newTestPipeline(t *testing.T, synth Synthesizer, eng engine.Engine) *Pipeline {
	t.Helper()
	cfg := config.Default().Capture
	p := New(synth, eng, cfg, 8000, testLogger())
	p.after = firedTimer
	return p
}

func TestExternalTierWins(t *testing.T) {
	synth := &fakeSynth{art: audio.Artifact{Data: []byte("external"), MIME: audio.MIMEMpeg}}
	p := newTestPipeline(t, synth, downEngine{})

	res, err := p.Run(context.Background(), Request{Text: "hola mundo"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tier != TierExternalSynthesis {
		t.Errorf("tier = %q, want %q", res.Tier, TierExternalSynthesis)
	}
	if res.FromLocalEngine {
		t.Error("external result should not be marked local")
	}
	if synth.calls != 1 {
		t.Errorf("synth calls = %d, want 1", synth.calls)
	}
}

func TestLocalCaptureAfterExternalFailure(t *testing.T) {
	synth := &fakeSynth{err: errors.New("endpoint down")}
	eng := engine.NewMockEngine(config.Default().Engine)
	p := newTestPipeline(t, synth, eng)

	res, err := p.Run(context.Background(), Request{Text: "hola mundo"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tier != TierLocalCapture {
		t.Fatalf("tier = %q, want %q", res.Tier, TierLocalCapture)
	}
	if !res.FromLocalEngine {
		t.Error("local capture should set FromLocalEngine")
	}
	if res.Duration < 3*time.Second {
		t.Errorf("duration = %v, want at least the 3s floor", res.Duration)
	}
	buf, err := audio.DecodeWAV(res.Artifact.Data)
	if err != nil {
		t.Fatalf("decode captured artifact: %v", err)
	}
	margin := time.Duration(config.Default().Capture.SafetyMarginMS) * time.Millisecond
	wantFrames := int((res.Duration + margin).Seconds() * 8000)
	if buf.Frames() != wantFrames {
		t.Errorf("frames = %d, want %d", buf.Frames(), wantFrames)
	}
}

func TestToneFallbackWhenEverythingFails(t *testing.T) {
	synth := &fakeSynth{err: errors.New("endpoint down")}
	p := newTestPipeline(t, synth, downEngine{})

	res, err := p.Run(context.Background(), Request{Text: "hola mundo"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Tier != TierToneFallback {
		t.Fatalf("tier = %q, want %q", res.Tier, TierToneFallback)
	}
	buf, err := audio.DecodeWAV(res.Artifact.Data)
	if err != nil {
		t.Fatalf("tone artifact must be valid WAV: %v", err)
	}
	if buf.Frames() == 0 {
		t.Error("tone artifact is empty")
	}
}

func TestForceLocalSkipsExternal(t *testing.T) {
	synth := &fakeSynth{art: audio.Artifact{Data: []byte("x"), MIME: audio.MIMEMpeg}}
	eng := engine.NewMockEngine(config.Default().Engine)
	p := newTestPipeline(t, synth, eng)

	res, err := p.Run(context.Background(), Request{Text: "hola", ForceLocal: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if synth.calls != 0 {
		t.Errorf("synth calls = %d, want 0", synth.calls)
	}
	if res.Tier != TierLocalCapture {
		t.Errorf("tier = %q, want %q", res.Tier, TierLocalCapture)
	}
}

func TestEmptyTextRejectedBeforeAnyStrategy(t *testing.T) {
	synth := &fakeSynth{}
	p := newTestPipeline(t, synth, downEngine{})

	if _, err := p.Run(context.Background(), Request{Text: "   "}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
	if synth.calls != 0 {
		t.Errorf("synth calls = %d, want 0", synth.calls)
	}
}

func TestStateTransitionsObserved(t *testing.T) {
	synth := &fakeSynth{err: errors.New("down")}
	p := newTestPipeline(t, synth, downEngine{})

	var states []State
	p.OnState(func(id string, s State) { states = append(states, s) })

	if _, err := p.Run(context.Background(), Request{ID: "req-1", Text: "hola"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []State{StateTryingExternalSynthesis, StateTryingLocalCapture, StateTryingToneFallback, StateDone}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

func TestCanceledContextFailsPipeline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	synth := &fakeSynth{err: errors.New("down")}
	p := newTestPipeline(t, synth, downEngine{})
	if _, err := p.Run(ctx, Request{Text: "hola"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
