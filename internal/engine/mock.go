package engine

import (
	"context"
	"sync"
	"time"

	"github.com/vozlabs/voz-core/internal/config"
)

// mockEngine fakes the host speech capability with timers. It reports the
// same lifecycle an utterance would, compressed so that tests stay fast.
type mockEngine struct {
	cfg    config.EngineConfig
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewMockEngine returns an engine that "speaks" silently for a fraction of
// the estimated duration.
func NewMockEngine(cfg config.EngineConfig) Engine {
	return &mockEngine{cfg: cfg}
}

func (m *mockEngine) Speak(ctx context.Context, req SpeakRequest) (<-chan Event, error) {
	speakCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel
	m.mu.Unlock()

	events := make(chan Event, 2)
	go func() {
		defer close(events)
		defer m.clear(cancel)

		events <- Event{Type: EventStarted}

		// Compressed stand-in for real synthesis time.
		hold := EstimateDuration(req.Text, req.Rate) / 100
		if hold > 50*time.Millisecond {
			hold = 50 * time.Millisecond
		}
		select {
		case <-speakCtx.Done():
			events <- Event{Type: EventEnded}
			return
		case <-time.After(hold):
		}
		events <- Event{Type: EventEnded}
	}()
	return events, nil
}

func (m *mockEngine) Voices() []Voice {
	return []Voice{
		{ID: "mock-es", Name: "Simulada", Language: "es-ES"},
		{ID: "mock-en", Name: "Simulated", Language: "en-US"},
	}
}

func (m *mockEngine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *mockEngine) clear(cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel = nil
	}
	cancel()
}
