// Package capture turns a conversion request into an audio artifact by
// walking an ordered set of strategies. A strategy that fails is logged and
// abandoned; the pipeline moves to the next tier instead of retrying. The
// final tier generates a tone locally and cannot fail, so a request only
// errors on cancellation or empty input.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vozlabs/voz-core/internal/audio"
	"github.com/vozlabs/voz-core/internal/config"
	"github.com/vozlabs/voz-core/internal/engine"
)

// ErrEmptyText rejects requests with no speakable content. It is checked
// before any strategy runs.
var ErrEmptyText = errors.New("text is empty")

// State names the pipeline's position for observers.
type State string

const (
	StateIdle                    State = "idle"
	StateTryingExternalSynthesis State = "trying_external_synthesis"
	StateTryingLocalCapture      State = "trying_local_capture"
	StateTryingToneFallback      State = "trying_tone_fallback"
	StateDone                    State = "done"
	StateFailed                  State = "failed"
)

// Tier names the strategy that produced the artifact.
type Tier string

const (
	TierExternalSynthesis Tier = "external_synthesis"
	TierLocalCapture      Tier = "local_capture"
	TierToneFallback      Tier = "tone_fallback"
)

// Synthesizer is the external endpoint tier. A nil Synthesizer means the
// tier is not configured and the pipeline starts at local capture.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (audio.Artifact, error)
}

// Request is one conversion job.
type Request struct {
	ID         string
	Text       string
	Language   string
	Voice      string
	Rate       float64
	Pitch      float64
	ForceLocal bool
}

// Result is the pipeline's output for a request.
type Result struct {
	Artifact        audio.Artifact
	Tier            Tier
	FromLocalEngine bool
	Duration        time.Duration
}

// StateFunc observes per-request state transitions.
type StateFunc func(requestID string, state State)

// Pipeline runs conversion requests through the strategy tiers.
type Pipeline struct {
	synth   Synthesizer
	engine  engine.Engine
	cfg     config.CaptureConfig
	rate    int
	logger  *slog.Logger
	onState StateFunc

	// after is swapped for a fake in tests so local capture does not
	// sleep through the real recording window.
	after func(d time.Duration) <-chan time.Time
}

// New builds a pipeline. synth may be nil when no endpoint is configured.
func New(synth Synthesizer, eng engine.Engine, cfg config.CaptureConfig, sampleRate int, log *slog.Logger) *Pipeline {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return &Pipeline{
		synth:  synth,
		engine: eng,
		cfg:    cfg,
		rate:   sampleRate,
		logger: log.With(slog.String("component", "capture-pipeline")),
		after:  time.After,
	}
}

// OnState registers a transition observer. Must be set before Run.
func (p *Pipeline) OnState(fn StateFunc) { p.onState = fn }

func (p *Pipeline) transition(id string, s State) {
	if p.onState != nil {
		p.onState(id, s)
	}
}

// Run walks the tiers until one yields an artifact. The returned error is
// non-nil only for empty input or context cancellation.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, ErrEmptyText
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Rate <= 0 {
		req.Rate = 1.0
	}
	estimate := engine.EstimateDuration(req.Text, req.Rate)
	log := p.logger.With(slog.String("request_id", req.ID))

	if p.synth != nil && !req.ForceLocal {
		p.transition(req.ID, StateTryingExternalSynthesis)
		art, err := p.synth.Synthesize(ctx, req.Text, req.Language)
		if err == nil {
			p.transition(req.ID, StateDone)
			return Result{Artifact: art, Tier: TierExternalSynthesis, Duration: estimate}, nil
		}
		if ctx.Err() != nil {
			p.transition(req.ID, StateFailed)
			return Result{}, ctx.Err()
		}
		log.Warn("external synthesis failed, trying local capture", slog.String("error", err.Error()))
	}

	p.transition(req.ID, StateTryingLocalCapture)
	art, err := p.localCapture(ctx, req, estimate)
	if err == nil {
		p.transition(req.ID, StateDone)
		return Result{Artifact: art, Tier: TierLocalCapture, FromLocalEngine: true, Duration: estimate}, nil
	}
	if ctx.Err() != nil {
		p.transition(req.ID, StateFailed)
		return Result{}, ctx.Err()
	}
	log.Warn("local capture failed, falling back to tone", slog.String("error", err.Error()))

	p.transition(req.ID, StateTryingToneFallback)
	tone := audio.GenerateTone(estimate.Seconds(), p.rate)
	p.transition(req.ID, StateDone)
	return Result{Artifact: audio.EncodeWAV(tone), Tier: TierToneFallback, Duration: estimate}, nil
}

// localCapture has the engine speak while the oscillator bridge is recorded.
// The recording window is the duration estimate plus the configured safety
// margin; the window timer decides when recording stops, not the engine's
// end-of-speech event, so a premature Ended never truncates the artifact.
func (p *Pipeline) localCapture(ctx context.Context, req Request, estimate time.Duration) (audio.Artifact, error) {
	voice := req.Voice
	if voice == "" {
		if v, ok := engine.PickVoice(p.engine.Voices(), req.Language); ok {
			voice = v.ID
		}
	}
	events, err := p.engine.Speak(ctx, engine.SpeakRequest{
		Text:     req.Text,
		Language: req.Language,
		Voice:    voice,
		Rate:     req.Rate,
		Pitch:    req.Pitch,
	})
	if err != nil {
		return audio.Artifact{}, fmt.Errorf("engine speak: %w", err)
	}
	defer p.engine.Cancel()

	window := estimate + time.Duration(p.cfg.SafetyMarginMS)*time.Millisecond
	timer := p.after(window)
	for {
		select {
		case <-ctx.Done():
			return audio.Artifact{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Type == engine.EventError {
				return audio.Artifact{}, fmt.Errorf("engine reported failure: %w", ev.Err)
			}
		case <-timer:
			osc := audio.NewOscillator(p.cfg.OscillatorHz, p.cfg.OscillatorGain, p.rate)
			frames := int(window.Seconds() * float64(p.rate))
			buf := &audio.Buffer{
				SampleRate: p.rate,
				Channels:   1,
				Data:       [][]float64{osc.Read(frames)},
			}
			return audio.EncodeWAV(buf), nil
		}
	}
}
