// Package download produces saved audio files. It walks the same kind of
// strategy ladder as the capture pipeline, but its first two tiers are the
// configured external endpoints and its last tier is the capture pipeline
// itself, so a download succeeds even when every endpoint is unreachable.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vozlabs/voz-core/internal/audio"
	"github.com/vozlabs/voz-core/internal/capture"
	"github.com/vozlabs/voz-core/internal/engine"
	"github.com/vozlabs/voz-core/internal/protocol"
)

// ErrAllStrategiesFailed reports that no tier produced an artifact.
var ErrAllStrategiesFailed = errors.New("all download strategies failed")

// Endpoint tier names. A capture-pipeline win carries the pipeline's own
// tier name instead.
const (
	TierPrimaryEndpoint   = "primary_endpoint"
	TierSecondaryEndpoint = "secondary_endpoint"
)

// Pipeline is the last-resort tier, satisfied by capture.Pipeline.
type Pipeline interface {
	Run(ctx context.Context, req capture.Request) (capture.Result, error)
}

// Request describes one download job.
type Request struct {
	Text      string
	Language  string
	FileName  string
	Service   string
	UserEmail string
}

// Result is a completed download: the artifact, where it was saved, and the
// record describing the conversion.
type Result struct {
	Path     string
	Artifact audio.Artifact
	Record   protocol.ConversionRecord
}

// Service resolves download requests through the endpoint tiers and saves
// the winning artifact into the downloads directory.
type Service struct {
	primary   capture.Synthesizer
	secondary capture.Synthesizer
	pipeline  Pipeline
	dir       string
	logger    *slog.Logger
	now       func() time.Time
}

// New builds the service. Either endpoint may be nil when unconfigured;
// pipeline must not be.
func New(primary, secondary capture.Synthesizer, pipeline Pipeline, dir string, log *slog.Logger) *Service {
	return &Service{
		primary:   primary,
		secondary: secondary,
		pipeline:  pipeline,
		dir:       dir,
		logger:    log.With(slog.String("component", "download-service")),
		now:       time.Now,
	}
}

// Download walks the tiers, saves the first artifact it obtains, and returns
// the saved path with a conversion record. Empty text fails validation
// before any tier runs.
func (s *Service) Download(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, capture.ErrEmptyText
	}

	art, tier, fromLocal, duration, err := s.resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}

	name := fileName(req.FileName, art.MIME, s.now())
	path, err := s.save(name, art.Data)
	if err != nil {
		return Result{}, fmt.Errorf("save artifact: %w", err)
	}

	now := s.now()
	return Result{
		Path:     path,
		Artifact: art,
		Record: protocol.ConversionRecord{
			ID:              now.UnixMilli(),
			Text:            req.Text,
			CreatedAt:       now,
			ServiceType:     serviceType(req.Service),
			FileName:        name,
			AudioPath:       path,
			MIME:            art.MIME,
			Tier:            tier,
			FromLocalEngine: fromLocal,
			DurationSeconds: duration.Seconds(),
		},
	}, nil
}

func (s *Service) resolve(ctx context.Context, req Request) (audio.Artifact, string, bool, time.Duration, error) {
	endpoints := []struct {
		tier   string
		client capture.Synthesizer
	}{
		{TierPrimaryEndpoint, s.primary},
		{TierSecondaryEndpoint, s.secondary},
	}
	estimate := engine.EstimateDuration(req.Text, 1.0)
	for _, ep := range endpoints {
		if ep.client == nil {
			continue
		}
		art, err := ep.client.Synthesize(ctx, req.Text, req.Language)
		if err == nil {
			return art, ep.tier, false, estimate, nil
		}
		if ctx.Err() != nil {
			return audio.Artifact{}, "", false, 0, ctx.Err()
		}
		s.logger.Warn("endpoint tier failed", slog.String("tier", ep.tier), slog.String("error", err.Error()))
	}

	res, err := s.pipeline.Run(ctx, capture.Request{
		Text:       req.Text,
		Language:   req.Language,
		ForceLocal: true,
	})
	if err != nil {
		return audio.Artifact{}, "", false, 0, fmt.Errorf("%w: %v", ErrAllStrategiesFailed, err)
	}
	return res.Artifact, string(res.Tier), res.FromLocalEngine, res.Duration, nil
}

// save writes data into the downloads directory atomically: the bytes land
// in a temp file first and only a successful write is renamed into place.
func (s *Service) save(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.dir, ".voz-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	path := filepath.Join(s.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

func serviceType(s string) string {
	if s == "" {
		return "download"
	}
	return s
}

// fileName sanitizes the caller's name hint and pins the extension to the
// artifact's MIME type.
func fileName(hint, mime string, now time.Time) string {
	ext := ".mp3"
	if mime == audio.MIMEWav {
		ext = ".wav"
	}
	name := strings.TrimSpace(hint)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "-")
	name = strings.ReplaceAll(name, "..", "-")
	if name == "" {
		name = fmt.Sprintf("conversion-%d", now.UnixMilli())
	}
	if got := filepath.Ext(name); got == ".wav" || got == ".mp3" {
		name = strings.TrimSuffix(name, got)
	}
	return name + ext
}
