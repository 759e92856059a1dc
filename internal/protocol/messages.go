package protocol

import "time"

// ConversionRequest asks the conversion service to turn text into audio.
type ConversionRequest struct {
	RequestID  string  `json:"request_id"`
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Voice      string  `json:"voice,omitempty"`
	Rate       float64 `json:"rate,omitempty"`
	Pitch      float64 `json:"pitch,omitempty"`
	FileName   string  `json:"file_name,omitempty"`
	Service    string  `json:"service,omitempty"`
	UserEmail  string  `json:"user_email,omitempty"`
	ForceLocal bool    `json:"force_local,omitempty"`
}

// ConversionRecord is the completed result of a conversion, published on the
// bus and persisted in history.
type ConversionRecord struct {
	ID              int64     `json:"id"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"created_at"`
	ServiceType     string    `json:"service_type"`
	FileName        string    `json:"file_name,omitempty"`
	Audio           []byte    `json:"audio,omitempty"`
	AudioPath       string    `json:"audio_path,omitempty"`
	MIME            string    `json:"mime,omitempty"`
	Tier            string    `json:"tier"`
	FromLocalEngine bool      `json:"from_local_engine"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// ConversionError reports a terminal conversion failure back to the caller.
type ConversionError struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// DownloadRequest asks for a saved audio file instead of a playback stream.
type DownloadRequest struct {
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
	Language  string `json:"language"`
	FileName  string `json:"file_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
}

// RecordRequest starts a media recording session. The window is sized from
// DurationSeconds when set, otherwise from the reading time of Text.
type RecordRequest struct {
	RequestID       string  `json:"request_id"`
	Text            string  `json:"text,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	FileName        string  `json:"file_name,omitempty"`
	UserEmail       string  `json:"user_email,omitempty"`
}

// PlaybackEvent marks playback session lifecycle moments.
type PlaybackEvent struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// Playback event kinds.
const (
	PlaybackStarted = "started"
	PlaybackEnded   = "ended"
	PlaybackError   = "error"
)

const (
	SubjectConvertRequest  = "voz.convert.request"
	SubjectConvertRecord   = "voz.convert.record"
	SubjectConvertError    = "voz.convert.error"
	SubjectDownloadRequest = "voz.download.request"
	SubjectRecordStart     = "voz.record.start"
	SubjectRecordStop      = "voz.record.stop"
	SubjectPlaybackEvent   = "voz.playback.event"
)
