package playback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vozlabs/voz-core/internal/audio"
	"github.com/vozlabs/voz-core/internal/engine"
)

// ErrNothingToPlay rejects requests carrying neither an artifact nor text.
var ErrNothingToPlay = errors.New("request has no artifact and no text")

// Hooks observe session lifecycle. OnEnd fires exactly once per session, on
// natural completion and on manual stop alike; it does not imply success.
type Hooks struct {
	OnStart func(sessionID string)
	OnEnd   func(sessionID string)
	OnError func(sessionID string, err error)
}

// Request is one playback job. A non-empty artifact goes to the sink; a
// text-only request goes to the speech engine.
type Request struct {
	Artifact *audio.Artifact
	Text     string
	Language string
	Voice    string
	Rate     float64
	Pitch    float64
}

type session struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	end    sync.Once
}

// Controller serializes playback so at most one session is ever active.
// Starting a new session stops the previous one first and waits for its
// resources to be released.
type Controller struct {
	sink   Sink
	engine engine.Engine
	hooks  Hooks
	logger *slog.Logger

	// startMu serializes the whole stop-then-start sequence so two Play
	// calls cannot both see no current session and launch together.
	startMu sync.Mutex

	mu      sync.Mutex
	current *session
}

// NewController wires a sink and an engine behind the single-session rule.
func NewController(sink Sink, eng engine.Engine, hooks Hooks, log *slog.Logger) *Controller {
	return &Controller{
		sink:   sink,
		engine: eng,
		hooks:  hooks,
		logger: log.With(slog.String("component", "playback-controller")),
	}
}

// Play stops any active session, then starts a new one and returns its ID
// without waiting for it to finish.
func (c *Controller) Play(ctx context.Context, req Request) (string, error) {
	hasArtifact := req.Artifact != nil && !req.Artifact.Empty()
	if !hasArtifact && strings.TrimSpace(req.Text) == "" {
		return "", ErrNothingToPlay
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()
	c.Stop()

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &session{
		id:     uuid.NewString(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	go c.run(sessionCtx, s, req, hasArtifact)
	return s.id, nil
}

// Stop cancels the active session and waits for its end notification.
// Calling Stop with no active session does nothing.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.current
	c.current = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.cancel()
	<-s.done
}

// Playing reports whether a session is currently active.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *Controller) run(ctx context.Context, s *session, req Request, hasArtifact bool) {
	defer close(s.done)
	defer s.cancel()
	defer c.clear(s)

	if c.hooks.OnStart != nil {
		c.hooks.OnStart(s.id)
	}

	var err error
	if hasArtifact {
		err = c.sink.Play(ctx, *req.Artifact)
	} else {
		err = c.speak(ctx, req)
	}
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("playback session failed",
			slog.String("session_id", s.id), slog.String("error", err.Error()))
		if c.hooks.OnError != nil {
			c.hooks.OnError(s.id, err)
		}
	}

	s.end.Do(func() {
		if c.hooks.OnEnd != nil {
			c.hooks.OnEnd(s.id)
		}
	})
}

// speak drives the engine for a text-only session and waits for the
// utterance to finish.
func (c *Controller) speak(ctx context.Context, req Request) error {
	events, err := c.engine.Speak(ctx, engine.SpeakRequest{
		Text:     req.Text,
		Language: req.Language,
		Voice:    req.Voice,
		Rate:     req.Rate,
		Pitch:    req.Pitch,
	})
	if err != nil {
		return err
	}
	defer c.engine.Cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case engine.EventError:
				return ev.Err
			case engine.EventEnded:
				return nil
			}
		}
	}
}

// clear drops the session pointer if it is still current. A Stop that has
// already swapped it out wins.
func (c *Controller) clear(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == s {
		c.current = nil
	}
}
