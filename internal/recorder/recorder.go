// Package recorder captures chunked media from a host source and recovers
// a usable audio artifact from whatever the capture produced. Media capture
// is best-effort: sources disappear, chunks arrive malformed, and the
// extraction path is built to degrade instead of fail.
package recorder

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/vozlabs/voz-core/internal/audio"
	"github.com/vozlabs/voz-core/internal/config"
)

// Source delivers encoded media chunks on a cadence while recording. The
// channel closes when the source stops on its own.
type Source interface {
	Record(ctx context.Context, interval time.Duration) (<-chan []byte, error)
	HasAudio() bool
}

// Options controls one recording session.
type Options struct {
	// Duration auto-stops the session when it elapses. Zero means manual
	// stop only.
	Duration time.Duration
	// OnStop receives the assembled artifact exactly once per session.
	OnStop func(audio.Artifact)
}

// Recorder runs at most one session at a time over a primary media source,
// with a microphone source attached when the primary carries no audio.
type Recorder struct {
	primary Source
	mic     Source
	cfg     config.RecorderConfig
	logger  *slog.Logger

	mu     sync.Mutex
	active *recording
}

type recording struct {
	cancel   context.CancelFunc
	finalize sync.Once
	done     chan struct{}
}

// New builds a recorder. mic may be nil when no fallback capture exists.
func New(primary, mic Source, cfg config.RecorderConfig, log *slog.Logger) *Recorder {
	return &Recorder{
		primary: primary,
		mic:     mic,
		cfg:     cfg,
		logger:  log.With(slog.String("component", "recorder")),
	}
}

// EstimateWindow sizes a recording for the given text: reading time at 150
// words per minute with a 10 second floor, plus 5 seconds of slack for the
// capture machinery to spin up and drain.
func EstimateWindow(text string) time.Duration {
	words := float64(len(text)) / 5
	seconds := math.Ceil(words / 150 * 60)
	if seconds < 10 {
		seconds = 10
	}
	return time.Duration(seconds+5) * time.Second
}

// Start begins a session and reports whether recording actually started.
// A session already in flight, or a primary source that refuses to record,
// yields false.
func (r *Recorder) Start(opts Options) bool {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		r.logger.Warn("recording already in progress")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	interval := time.Duration(r.cfg.ChunkIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if limit := time.Duration(r.cfg.MaxDurationS) * time.Second; limit > 0 {
		if opts.Duration <= 0 || opts.Duration > limit {
			opts.Duration = limit
		}
	}

	primary, err := r.primary.Record(ctx, interval)
	if err != nil {
		r.mu.Unlock()
		cancel()
		r.logger.Warn("primary source refused to record", slog.String("error", err.Error()))
		return false
	}

	var mic <-chan []byte
	if !r.primary.HasAudio() && r.mic != nil {
		if mic, err = r.mic.Record(ctx, interval); err != nil {
			r.logger.Warn("microphone attach failed, recording without audio track",
				slog.String("error", err.Error()))
			mic = nil
		}
	}

	rec := &recording{cancel: cancel, done: make(chan struct{})}
	r.active = rec
	r.mu.Unlock()

	go r.collect(ctx, rec, primary, mic, opts)
	return true
}

// Stop ends the active session, if any. The auto-stop timer and Stop
// converge on the same finalize, so the artifact is delivered once no
// matter which fires first.
func (r *Recorder) Stop() {
	r.mu.Lock()
	rec := r.active
	r.mu.Unlock()
	if rec == nil {
		return
	}
	rec.cancel()
	<-rec.done
}

// Recording reports whether a session is in flight.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Recorder) collect(ctx context.Context, rec *recording, primary, mic <-chan []byte, opts Options) {
	defer close(rec.done)

	var timer <-chan time.Time
	if opts.Duration > 0 {
		t := time.NewTimer(opts.Duration)
		defer t.Stop()
		timer = t.C
	}

	var chunks bytes.Buffer
	finish := func() {
		rec.finalize.Do(func() {
			rec.cancel()
			r.mu.Lock()
			if r.active == rec {
				r.active = nil
			}
			r.mu.Unlock()

			art := audio.Artifact{Data: chunks.Bytes(), MIME: audio.MIMEWav}
			r.logger.Info("recording finished", slog.Int("bytes", art.Size()))
			if opts.OnStop != nil {
				opts.OnStop(art)
			}
		})
	}
	defer finish()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer:
			return
		case chunk, ok := <-primary:
			if !ok {
				return
			}
			chunks.Write(chunk)
		case chunk, ok := <-mic:
			if !ok {
				mic = nil
				continue
			}
			chunks.Write(chunk)
		}
	}
}
