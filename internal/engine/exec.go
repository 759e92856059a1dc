package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/vozlabs/voz-core/internal/config"
)

// execEngine bridges to an external speech binary (say, espeak-ng, a piper
// wrapper). The binary receives one JSON request on stdin, plays the audio on
// the host output, and exits when the utterance finishes. Its --voices mode
// prints the installed voice list as JSON.
type execEngine struct {
	cmd []string
	cfg config.EngineConfig
	mu  sync.Mutex

	cancel context.CancelFunc
}

type execRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice,omitempty"`
	Language string  `json:"language,omitempty"`
	Rate     float64 `json:"rate"`
	Pitch    float64 `json:"pitch"`
}

type execVoice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
}

// NewExecEngine parses the configured command line and verifies the binary
// exists; a missing binary is the capability-absent case.
func NewExecEngine(cfg config.EngineConfig) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEngineUnavailable, args[0])
	}
	return &execEngine{cmd: args, cfg: cfg}, nil
}

func (e *execEngine) Speak(ctx context.Context, req SpeakRequest) (<-chan Event, error) {
	payload := execRequest{
		Text:     req.Text,
		Voice:    req.Voice,
		Language: req.Language,
		Rate:     req.Rate,
		Pitch:    req.Pitch,
	}
	if payload.Rate == 0 {
		payload.Rate = e.cfg.Rate
	}
	if payload.Pitch == 0 {
		payload.Pitch = e.cfg.Pitch
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	speakCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.mu.Unlock()

	events := make(chan Event, 2)
	go func() {
		defer close(events)
		defer e.clear(cancel)

		base := e.cmd[0]
		args := append([]string{}, e.cmd[1:]...)
		cmd := exec.CommandContext(speakCtx, base, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			events <- Event{Type: EventError, Err: err}
			return
		}
		if err := cmd.Start(); err != nil {
			events <- Event{Type: EventError, Err: fmt.Errorf("start engine: %w", err)}
			return
		}

		events <- Event{Type: EventStarted}

		if _, err := stdin.Write(data); err != nil {
			events <- Event{Type: EventError, Err: err}
			_ = cmd.Wait()
			return
		}
		stdin.Close()

		if err := cmd.Wait(); err != nil {
			if speakCtx.Err() != nil {
				// Canceled mid-utterance still counts as ended.
				events <- Event{Type: EventEnded}
				return
			}
			events <- Event{Type: EventError, Err: fmt.Errorf("synthesis error: %w", err)}
			return
		}
		events <- Event{Type: EventEnded}
	}()
	return events, nil
}

func (e *execEngine) Voices() []Voice {
	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--voices")
	out, err := exec.Command(base, args...).Output()
	if err != nil {
		return nil
	}
	var listed []execVoice
	if err := json.Unmarshal(out, &listed); err != nil {
		return nil
	}
	voices := make([]Voice, 0, len(listed))
	for _, v := range listed {
		voices = append(voices, Voice{ID: v.ID, Name: v.Name, Language: v.Language})
	}
	return voices
}

func (e *execEngine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *execEngine) clear(cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel = nil
	}
	cancel()
}
