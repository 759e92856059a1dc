package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vozlabs/voz-core/internal/audio"
	"github.com/vozlabs/voz-core/internal/bus"
	"github.com/vozlabs/voz-core/internal/capture"
	"github.com/vozlabs/voz-core/internal/config"
	"github.com/vozlabs/voz-core/internal/download"
	"github.com/vozlabs/voz-core/internal/history"
	"github.com/vozlabs/voz-core/internal/natsserver"
	"github.com/vozlabs/voz-core/internal/protocol"
	"github.com/vozlabs/voz-core/internal/recorder"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakePipeline struct {
	res capture.Result
	err error
}

func (f *fakePipeline) Run(ctx context.Context, req capture.Request) (capture.Result, error) {
	if req.Text == "" || f.err != nil {
		if f.err != nil {
			return capture.Result{}, f.err
		}
		return capture.Result{}, capture.ErrEmptyText
	}
	return f.res, nil
}

type fakeDownloader struct {
	res download.Result
	err error
}

func (f *fakeDownloader) Download(ctx context.Context, req download.Request) (download.Result, error) {
	return f.res, f.err
}

// fakeMedia holds the registered session options so a test can trigger the
// finalize path by calling Stop.
type fakeMedia struct {
	mu      sync.Mutex
	opts    recorder.Options
	started bool
	refuse  bool
}

func (f *fakeMedia) Start(opts recorder.Options) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse || f.started {
		return false
	}
	f.started = true
	f.opts = opts
	return true
}

func (f *fakeMedia) startedNow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeMedia) Stop() {
	f.mu.Lock()
	started := f.started
	opts := f.opts
	f.started = false
	f.mu.Unlock()
	if started && opts.OnStop != nil {
		opts.OnStop(audio.EncodeWAV(audio.GenerateTone(0.05, 8000)))
	}
}

type harness struct {
	svc  *Service
	conn *nats.Conn
}

func newHarness(t *testing.T, pipe Pipeline, dl Downloader, rec Media) *harness {
	t.Helper()

	busCfg := config.BusConfig{Embedded: true, Port: -1, ConnectTimeout: 2000}
	srv, err := natsserver.Start(busCfg, testLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	busCfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), busCfg, testLogger())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)

	hist, err := history.Open(context.Background(), config.HistoryConfig{RetentionMode: "ephemeral"}, testLogger())
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	cfg := config.Default()
	cfg.Service.Enabled = true
	cfg.Playback.Enabled = false

	svc := New(context.Background(), cfg, client, pipe, dl, nil, rec, hist, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(svc.Close)

	if !svc.Healthy() {
		t.Fatal("service not healthy after start")
	}
	return &harness{svc: svc, conn: client.Conn()}
}

func awaitMsg(t *testing.T, ch <-chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message arrived in time")
		return nil
	}
}

func TestConvertRequestPublishesRecord(t *testing.T) {
	art := audio.EncodeWAV(audio.GenerateTone(0.05, 8000))
	pipe := &fakePipeline{res: capture.Result{
		Artifact:        art,
		Tier:            capture.TierLocalCapture,
		FromLocalEngine: true,
		Duration:        3 * time.Second,
	}}
	h := newHarness(t, pipe, &fakeDownloader{}, nil)

	records := make(chan *nats.Msg, 1)
	sub, err := h.conn.ChanSubscribe(protocol.SubjectConvertRecord, records)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	req, _ := json.Marshal(protocol.ConversionRequest{
		RequestID: "req-1",
		Text:      "hola mundo",
		Language:  "es",
		UserEmail: "user@example.com",
	})
	if err := h.conn.Publish(protocol.SubjectConvertRequest, req); err != nil {
		t.Fatalf("publish request: %v", err)
	}

	msg := awaitMsg(t, records)
	var rec protocol.ConversionRecord
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.ID == 0 {
		t.Error("record has no ID")
	}
	if !rec.FromLocalEngine {
		t.Error("record should mark local engine")
	}
	if rec.Tier != string(capture.TierLocalCapture) {
		t.Errorf("tier = %q", rec.Tier)
	}
	if rec.DurationSeconds < 3 {
		t.Errorf("duration = %v, want at least 3s", rec.DurationSeconds)
	}
	if len(rec.Audio) != len(art.Data) {
		t.Errorf("audio bytes = %d, want %d", len(rec.Audio), len(art.Data))
	}
}

func TestEmptyTextPublishesError(t *testing.T) {
	h := newHarness(t, &fakePipeline{}, &fakeDownloader{}, nil)

	errs := make(chan *nats.Msg, 1)
	sub, err := h.conn.ChanSubscribe(protocol.SubjectConvertError, errs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	req, _ := json.Marshal(protocol.ConversionRequest{RequestID: "req-2", Text: ""})
	if err := h.conn.Publish(protocol.SubjectConvertRequest, req); err != nil {
		t.Fatalf("publish request: %v", err)
	}

	msg := awaitMsg(t, errs)
	var out protocol.ConversionError
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if out.RequestID != "req-2" {
		t.Errorf("request id = %q", out.RequestID)
	}
	if out.Reason == "" {
		t.Error("error payload has no reason")
	}
}

func TestDownloadRequestPublishesRecordWithPath(t *testing.T) {
	dl := &fakeDownloader{res: download.Result{
		Path: "/downloads/saludo.wav",
		Record: protocol.ConversionRecord{
			Text:        "hola",
			ServiceType: "download",
			FileName:    "saludo.wav",
			AudioPath:   "/downloads/saludo.wav",
			MIME:        audio.MIMEWav,
			Tier:        download.TierPrimaryEndpoint,
		},
	}}
	h := newHarness(t, &fakePipeline{}, dl, nil)

	records := make(chan *nats.Msg, 1)
	sub, err := h.conn.ChanSubscribe(protocol.SubjectConvertRecord, records)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	req, _ := json.Marshal(protocol.DownloadRequest{RequestID: "dl-1", Text: "hola", FileName: "saludo"})
	if err := h.conn.Publish(protocol.SubjectDownloadRequest, req); err != nil {
		t.Fatalf("publish request: %v", err)
	}

	msg := awaitMsg(t, records)
	var rec protocol.ConversionRecord
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.AudioPath != "/downloads/saludo.wav" {
		t.Errorf("audio path = %q", rec.AudioPath)
	}
	if rec.Tier != download.TierPrimaryEndpoint {
		t.Errorf("tier = %q", rec.Tier)
	}
	if rec.ID == 0 {
		t.Error("record has no ID")
	}
}

func TestDownloadFailurePublishesError(t *testing.T) {
	dl := &fakeDownloader{err: errors.New("disk full")}
	h := newHarness(t, &fakePipeline{}, dl, nil)

	errs := make(chan *nats.Msg, 1)
	sub, err := h.conn.ChanSubscribe(protocol.SubjectConvertError, errs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	req, _ := json.Marshal(protocol.DownloadRequest{RequestID: "dl-2", Text: "hola"})
	if err := h.conn.Publish(protocol.SubjectDownloadRequest, req); err != nil {
		t.Fatalf("publish request: %v", err)
	}

	msg := awaitMsg(t, errs)
	var out protocol.ConversionError
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if out.RequestID != "dl-2" {
		t.Errorf("request id = %q", out.RequestID)
	}
}

func TestRecordStartPublishesRecording(t *testing.T) {
	media := &fakeMedia{}
	h := newHarness(t, &fakePipeline{}, &fakeDownloader{}, media)

	records := make(chan *nats.Msg, 1)
	sub, err := h.conn.ChanSubscribe(protocol.SubjectConvertRecord, records)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	start, _ := json.Marshal(protocol.RecordRequest{
		RequestID: "rec-1",
		Text:      "hola mundo",
		UserEmail: "user@example.com",
	})
	if err := h.conn.Publish(protocol.SubjectRecordStart, start); err != nil {
		t.Fatalf("publish start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !media.startedNow() {
		if time.Now().After(deadline) {
			t.Fatal("recorder never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := h.conn.Publish(protocol.SubjectRecordStop, nil); err != nil {
		t.Fatalf("publish stop: %v", err)
	}

	msg := awaitMsg(t, records)
	var rec protocol.ConversionRecord
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.ServiceType != "recording" {
		t.Errorf("service type = %q", rec.ServiceType)
	}
	if rec.Tier != "media_recorder" {
		t.Errorf("tier = %q", rec.Tier)
	}
	if rec.ID == 0 {
		t.Error("record has no ID")
	}
	if len(rec.Audio) == 0 {
		t.Error("record carries no audio")
	}
	if rec.DurationSeconds <= 0 {
		t.Errorf("duration = %v, want positive", rec.DurationSeconds)
	}
}

func TestRecordStartRefusedPublishesError(t *testing.T) {
	media := &fakeMedia{refuse: true}
	h := newHarness(t, &fakePipeline{}, &fakeDownloader{}, media)

	errs := make(chan *nats.Msg, 1)
	sub, err := h.conn.ChanSubscribe(protocol.SubjectConvertError, errs)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	start, _ := json.Marshal(protocol.RecordRequest{RequestID: "rec-2", Text: "hola"})
	if err := h.conn.Publish(protocol.SubjectRecordStart, start); err != nil {
		t.Fatalf("publish start: %v", err)
	}

	msg := awaitMsg(t, errs)
	var out protocol.ConversionError
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if out.RequestID != "rec-2" {
		t.Errorf("request id = %q", out.RequestID)
	}
}

func TestDisabledServiceDoesNotSubscribe(t *testing.T) {
	busCfg := config.BusConfig{Embedded: true, Port: -1, ConnectTimeout: 2000}
	srv, err := natsserver.Start(busCfg, testLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	busCfg.Servers = []string{srv.ClientURL()}
	client, err := bus.Connect(context.Background(), busCfg, testLogger())
	if err != nil {
		t.Fatalf("connect bus: %v", err)
	}
	t.Cleanup(client.Close)

	hist, _ := history.Open(context.Background(), config.HistoryConfig{RetentionMode: "ephemeral"}, testLogger())
	t.Cleanup(func() { _ = hist.Close() })

	cfg := config.Default()
	cfg.Service.Enabled = false
	svc := New(context.Background(), cfg, client, &fakePipeline{}, &fakeDownloader{}, nil, nil, hist, testLogger())
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(svc.Close)

	if !svc.Healthy() {
		t.Error("disabled service should still report healthy")
	}
}
