// Package service connects the bus to the conversion machinery: requests
// come in on bus subjects, artifacts and records go back out.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vozlabs/voz-core/internal/audio"
	"github.com/vozlabs/voz-core/internal/bus"
	"github.com/vozlabs/voz-core/internal/capture"
	"github.com/vozlabs/voz-core/internal/config"
	"github.com/vozlabs/voz-core/internal/download"
	"github.com/vozlabs/voz-core/internal/history"
	"github.com/vozlabs/voz-core/internal/playback"
	"github.com/vozlabs/voz-core/internal/protocol"
	"github.com/vozlabs/voz-core/internal/recorder"
)

const requestTimeout = 120 * time.Second

// tierMediaRecorder labels records produced by the media recorder rather
// than a synthesis strategy.
const tierMediaRecorder = "media_recorder"

// Pipeline converts one request into an artifact.
type Pipeline interface {
	Run(ctx context.Context, req capture.Request) (capture.Result, error)
}

// Downloader resolves a request into a saved audio file.
type Downloader interface {
	Download(ctx context.Context, req download.Request) (download.Result, error)
}

// Media captures host media for record requests.
type Media interface {
	Start(opts recorder.Options) bool
	Stop()
}

// Service subscribes to conversion and download requests and publishes
// records, errors, and playback lifecycle events.
type Service struct {
	cfg      config.Config
	bus      *bus.Client
	pipeline Pipeline
	download Downloader
	player   *playback.Controller
	recorder Media
	history  *history.Store

	convSub *nats.Subscription
	dlSub   *nats.Subscription
	recSub  *nats.Subscription
	stopSub *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger

	conversions metric.Int64Counter
	failures    metric.Int64Counter
}

// New wires the service. player may be nil when the host has no audio
// output, and rec may be nil when no media source exists.
func New(parent context.Context, cfg config.Config, busClient *bus.Client, pipe Pipeline, dl Downloader, player *playback.Controller, rec Media, hist *history.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)

	meter := otel.Meter("github.com/vozlabs/voz-core/internal/service")
	conversions, _ := meter.Int64Counter("voz_conversions_total",
		metric.WithDescription("Completed conversions by strategy tier"))
	failures, _ := meter.Int64Counter("voz_conversion_failures_total",
		metric.WithDescription("Conversion requests that ended in a terminal error"))

	return &Service{
		cfg:         cfg,
		bus:         busClient,
		pipeline:    pipe,
		download:    dl,
		player:      player,
		recorder:    rec,
		history:     hist,
		ctx:         ctx,
		cancel:      cancel,
		logger:      log.With(slog.String("component", "conversion-service")),
		conversions: conversions,
		failures:    failures,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Service.Enabled {
		return nil
	}
	convSub, err := s.bus.Subscribe(protocol.SubjectConvertRequest, s.handleConvert)
	if err != nil {
		return err
	}
	s.convSub = convSub

	dlSub, err := s.bus.Subscribe(protocol.SubjectDownloadRequest, s.handleDownload)
	if err != nil {
		return err
	}
	s.dlSub = dlSub

	if s.recorder != nil {
		recSub, err := s.bus.Subscribe(protocol.SubjectRecordStart, s.handleRecordStart)
		if err != nil {
			return err
		}
		s.recSub = recSub

		stopSub, err := s.bus.Subscribe(protocol.SubjectRecordStop, s.handleRecordStop)
		if err != nil {
			return err
		}
		s.stopSub = stopSub
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.convSub != nil {
		_ = s.convSub.Drain()
	}
	if s.dlSub != nil {
		_ = s.dlSub.Drain()
	}
	if s.recSub != nil {
		_ = s.recSub.Drain()
	}
	if s.stopSub != nil {
		_ = s.stopSub.Drain()
	}
	if s.recorder != nil {
		s.recorder.Stop()
	}
	if s.player != nil {
		s.player.Stop()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Service.Enabled || (s.convSub != nil && s.dlSub != nil)
}

// PlaybackHooks publishes session lifecycle events on the bus. Pass the
// result to the playback controller at wiring time.
func PlaybackHooks(busClient *bus.Client, log *slog.Logger) playback.Hooks {
	publish := func(sessionID, kind, reason string) {
		ev := protocol.PlaybackEvent{
			SessionID: sessionID,
			Kind:      kind,
			Timestamp: time.Now().UTC(),
			Reason:    reason,
		}
		if err := busClient.PublishJSON(protocol.SubjectPlaybackEvent, ev); err != nil {
			log.Warn("failed to publish playback event", slog.String("error", err.Error()))
		}
	}
	return playback.Hooks{
		OnStart: func(id string) { publish(id, protocol.PlaybackStarted, "") },
		OnEnd:   func(id string) { publish(id, protocol.PlaybackEnded, "") },
		OnError: func(id string, err error) { publish(id, protocol.PlaybackError, err.Error()) },
	}
}

func (s *Service) handleConvert(msg *nats.Msg) {
	var req protocol.ConversionRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode conversion request", slog.String("error", err.Error()))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
		defer cancel()

		res, err := s.pipeline.Run(ctx, capture.Request{
			ID:         req.RequestID,
			Text:       req.Text,
			Language:   req.Language,
			Voice:      req.Voice,
			Rate:       req.Rate,
			Pitch:      req.Pitch,
			ForceLocal: req.ForceLocal || s.cfg.Service.UseLocalEngine,
		})
		if err != nil {
			s.fail(req.RequestID, err)
			return
		}

		rec, err := s.history.Append(ctx, req.UserEmail, history.Record{
			Text:            req.Text,
			ServiceType:     serviceType(req.Service, "conversion"),
			FileName:        req.FileName,
			Audio:           res.Artifact.Data,
			FromLocalEngine: res.FromLocalEngine,
			DurationSeconds: res.Duration.Seconds(),
		})
		if err != nil {
			s.logger.Warn("failed to persist conversion record", slog.String("error", err.Error()))
		}

		s.publishRecord(protocol.ConversionRecord{
			ID:              rec.ID,
			Text:            req.Text,
			CreatedAt:       rec.CreatedAt,
			ServiceType:     rec.ServiceType,
			FileName:        req.FileName,
			Audio:           res.Artifact.Data,
			MIME:            res.Artifact.MIME,
			Tier:            string(res.Tier),
			FromLocalEngine: res.FromLocalEngine,
			DurationSeconds: res.Duration.Seconds(),
		})
		s.conversions.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", string(res.Tier))))

		if s.player != nil && s.cfg.Playback.Enabled {
			if _, err := s.player.Play(s.ctx, playback.Request{Artifact: &res.Artifact, Text: req.Text}); err != nil {
				s.logger.Warn("playback start failed", slog.String("error", err.Error()))
			}
		}
	}()
}

func (s *Service) handleDownload(msg *nats.Msg) {
	var req protocol.DownloadRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode download request", slog.String("error", err.Error()))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
		defer cancel()

		res, err := s.download.Download(ctx, download.Request{
			Text:      req.Text,
			Language:  req.Language,
			FileName:  req.FileName,
			Service:   "download",
			UserEmail: req.UserEmail,
		})
		if err != nil {
			s.fail(req.RequestID, err)
			return
		}

		rec, err := s.history.Append(ctx, req.UserEmail, history.Record{
			Text:            req.Text,
			ServiceType:     res.Record.ServiceType,
			FileName:        res.Record.FileName,
			AudioPath:       res.Path,
			FromLocalEngine: res.Record.FromLocalEngine,
			DurationSeconds: res.Record.DurationSeconds,
		})
		if err != nil {
			s.logger.Warn("failed to persist download record", slog.String("error", err.Error()))
		}

		record := res.Record
		record.ID = rec.ID
		record.CreatedAt = rec.CreatedAt
		s.publishRecord(record)
		s.conversions.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", record.Tier)))
	}()
}

func (s *Service) handleRecordStart(msg *nats.Msg) {
	var req protocol.RecordRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode record request", slog.String("error", err.Error()))
		return
	}

	window := time.Duration(req.DurationSeconds * float64(time.Second))
	if window <= 0 {
		window = recorder.EstimateWindow(req.Text)
	}

	started := s.recorder.Start(recorder.Options{
		Duration: window,
		OnStop:   func(art audio.Artifact) { s.finishRecording(req, art) },
	})
	if !started {
		s.fail(req.RequestID, errors.New("recording did not start"))
	}
}

func (s *Service) handleRecordStop(*nats.Msg) {
	s.recorder.Stop()
}

// finishRecording runs on the recorder's collect goroutine, once per
// session.
func (s *Service) finishRecording(req protocol.RecordRequest, art audio.Artifact) {
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
	defer cancel()

	extracted := recorder.ExtractAudio(art.Data, s.logger)
	var duration float64
	if d, err := audio.WAVDuration(extracted.Data); err == nil {
		duration = d
	}

	rec, err := s.history.Append(ctx, req.UserEmail, history.Record{
		Text:            req.Text,
		ServiceType:     "recording",
		FileName:        req.FileName,
		Audio:           extracted.Data,
		DurationSeconds: duration,
	})
	if err != nil {
		s.logger.Warn("failed to persist recording", slog.String("error", err.Error()))
	}

	s.publishRecord(protocol.ConversionRecord{
		ID:              rec.ID,
		Text:            req.Text,
		CreatedAt:       rec.CreatedAt,
		ServiceType:     "recording",
		FileName:        req.FileName,
		Audio:           extracted.Data,
		MIME:            extracted.MIME,
		Tier:            tierMediaRecorder,
		DurationSeconds: duration,
	})
	s.conversions.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tierMediaRecorder)))
}

func (s *Service) publishRecord(rec protocol.ConversionRecord) {
	if err := s.bus.PublishJSON(protocol.SubjectConvertRecord, rec); err != nil {
		s.logger.Warn("failed to publish conversion record", slog.String("error", err.Error()))
	}
}

func (s *Service) fail(requestID string, err error) {
	s.logger.Warn("conversion failed",
		slog.String("request_id", requestID), slog.String("error", err.Error()))
	s.failures.Add(s.ctx, 1)
	out := protocol.ConversionError{RequestID: requestID, Reason: err.Error()}
	if perr := s.bus.PublishJSON(protocol.SubjectConvertError, out); perr != nil {
		s.logger.Warn("failed to publish conversion error", slog.String("error", perr.Error()))
	}
}

func serviceType(requested, fallback string) string {
	if requested == "" {
		return fallback
	}
	return requested
}
