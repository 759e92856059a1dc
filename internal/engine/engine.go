// Package engine wraps the host's speech synthesis capability behind a
// common adapter. Hosts differ: some carry a real speech binary, some carry
// nothing, so callers must treat the engine as optional and estimate spoken
// duration from text length rather than observing it.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vozlabs/voz-core/internal/config"
)

// ErrEngineUnavailable reports that the host has no speech synthesis
// capability at all. It is surfaced immediately and never retried.
var ErrEngineUnavailable = errors.New("speech engine unavailable on this host")

// EventType identifies a lifecycle event of one utterance.
type EventType string

const (
	EventStarted EventType = "started"
	EventEnded   EventType = "ended"
	EventError   EventType = "error"
)

// Event is one entry of the utterance lifecycle stream: started, then either
// ended or error, and nothing after that.
type Event struct {
	Type EventType
	Err  error
}

// SpeakRequest carries one utterance.
type SpeakRequest struct {
	Text     string
	Language string
	Voice    string
	Rate     float64
	Pitch    float64
}

// Voice describes an installed synthesis voice.
type Voice struct {
	ID       string
	Name     string
	Language string
}

// Engine is the adapter contract over a host speech capability.
type Engine interface {
	// Speak starts synthesizing the request and returns its event stream.
	// The channel is closed after the terminal event.
	Speak(ctx context.Context, req SpeakRequest) (<-chan Event, error)
	// Voices lists the installed voices, empty when none are known.
	Voices() []Voice
	// Cancel stops the active utterance. Idempotent; a no-op when idle.
	Cancel()
}

// New builds the engine selected by config.
func New(cfg config.EngineConfig) (Engine, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecEngine(cfg)
	case "mock":
		return NewMockEngine(cfg), nil
	default:
		return nil, errors.New("unknown engine mode: " + cfg.Mode)
	}
}

// PickVoice returns the first voice whose language tag starts with the target
// locale prefix ("es" for "es-ES"), else the first available voice, else zero.
func PickVoice(voices []Voice, language string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	prefix := language
	if i := strings.IndexByte(language, '-'); i > 0 {
		prefix = language[:i]
	}
	if prefix != "" {
		for _, v := range voices {
			if strings.HasPrefix(v.Language, prefix) {
				return v, true
			}
		}
	}
	return voices[0], true
}

// Duration estimation constants. No host exposes the true spoken duration,
// so every caller shares this heuristic.
const (
	wordsPerMinute  = 150.0
	charsPerWord    = 5.0
	minimumEstimate = 3 * time.Second
)

// EstimateDuration approximates how long text takes to speak at the given
// rate multiplier: 150 words/minute baseline, words taken as chars/5, with a
// floor of 3 seconds.
func EstimateDuration(text string, rate float64) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	words := float64(len(text)) / charsPerWord
	minutes := words / (wordsPerMinute * rate)
	d := time.Duration(minutes * float64(time.Minute))
	if d < minimumEstimate {
		return minimumEstimate
	}
	return d
}
