// Package synth calls external TTS-style endpoints. The endpoints are
// unreliable collaborators: they may be unreachable, rate-limited, or return
// non-audio payloads, and the client's job is to fail fast so the caller can
// advance to its next strategy tier rather than retry here.
package synth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vozlabs/voz-core/internal/audio"
	"github.com/vozlabs/voz-core/internal/text"
)

// Client talks to one translate-style TTS endpoint with an input-length
// limit per request.
type Client struct {
	endpoint string
	apiKey   string
	maxChunk int
	http     *http.Client
	logger   *slog.Logger
}

// New builds a client for the given endpoint. An empty endpoint yields a nil
// client, which callers treat as "tier not configured".
func New(endpoint, apiKey string, maxChunk int, timeout time.Duration, log *slog.Logger) *Client {
	if strings.TrimSpace(endpoint) == "" {
		return nil
	}
	if maxChunk <= 0 {
		maxChunk = 200
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		maxChunk: maxChunk,
		http:     &http.Client{Timeout: timeout},
		logger:   log.With(slog.String("component", "synth-client")),
	}
}

// MaxChunk exposes the per-request input limit.
func (c *Client) MaxChunk() int { return c.maxChunk }

// Synthesize converts text to one audio artifact. Texts at or under the
// chunk threshold go out as a single request and the response bytes pass
// through opaquely. Longer texts take the chunked path: each chunk is fetched
// and decoded independently, failed chunks are dropped as silent gaps, the
// surviving buffers are concatenated in chunk order and encoded once.
func (c *Client) Synthesize(ctx context.Context, input, language string) (audio.Artifact, error) {
	if len(input) <= c.maxChunk {
		body, mime, err := c.fetch(ctx, input, language)
		if err != nil {
			return audio.Artifact{}, err
		}
		return audio.Artifact{Data: body, MIME: mime}, nil
	}

	chunks := text.Chunk(input, c.maxChunk)
	buffers := make([]*audio.Buffer, len(chunks))
	decoded := 0
	for i, chunk := range chunks {
		body, _, err := c.fetch(ctx, chunk, language)
		if err != nil {
			c.logger.Warn("chunk fetch failed, leaving silent gap",
				slog.Int("chunk", i), slog.String("error", err.Error()))
			continue
		}
		buf, err := audio.DecodeWAV(body)
		if err != nil {
			c.logger.Warn("chunk decode failed, leaving silent gap",
				slog.Int("chunk", i), slog.String("error", err.Error()))
			continue
		}
		buffers[i] = buf
		decoded++
	}
	if decoded == 0 {
		return audio.Artifact{}, fmt.Errorf("no chunk of %d produced decodable audio", len(chunks))
	}
	return audio.EncodeWAV(audio.Concat(buffers...)), nil
}

// fetch performs one synthesis request for a single chunk of text.
func (c *Client) fetch(ctx context.Context, chunk, language string) ([]byte, string, error) {
	q := url.Values{}
	q.Set("q", chunk)
	q.Set("tl", language)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("synthesis endpoint returned %s", resp.Status)
	}
	mime := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mime, "audio/") {
		return nil, "", fmt.Errorf("non-audio payload %q from synthesis endpoint", mime)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read synthesis response: %w", err)
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("empty synthesis response")
	}
	return body, mime, nil
}
