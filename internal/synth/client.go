// Package synth calls the external speech-synthesis provider and normalizes
// whatever it answers with into canonical mono PCM16 clips.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/overcastgames/npcvoice/internal/audio"
	"github.com/overcastgames/npcvoice/internal/reliability"
)

// ProviderError is an application-level failure signaled inside the
// provider's response body.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("synthesis provider error: code=%s message=%s", e.Code, e.Message)
}

type Config struct {
	BaseURL    string
	AuthHeader string
	VoiceID    string
	ModelID    string
	Language   string

	TargetSampleRate int
	RequestTimeout   time.Duration
	MaxRetries       int
}

// Client speaks the provider's HTTP contract. The response is
// content-negotiated and under-specified, so everything that comes back goes
// through Normalize before any other stage sees it.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.inworld.ai/tts/v1/voice"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Deborah"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "inworld-tts-1"
	}
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = 16000
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	auth := strings.TrimSpace(cfg.AuthHeader)
	if auth != "" && !strings.Contains(auth, " ") {
		// Bare credentials are taken as a basic-auth token.
		auth = "Basic " + auth
	}
	cfg.AuthHeader = auth

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

type synthesisRequest struct {
	Text             string `json:"text"`
	VoiceID          string `json:"voiceId"`
	ModelID          string `json:"modelId"`
	Language         string `json:"language,omitempty"`
	SampleRate       int    `json:"sampleRate"`
	ChannelCount     int    `json:"channelCount"`
	DesiredEncoding  string `json:"desiredEncoding"`
	DesiredContainer string `json:"desiredContainer"`
}

// Synthesize speaks text through the provider and returns a canonical mono
// PCM16 clip at the configured target rate.
func (c *Client) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	payload, err := json.Marshal(synthesisRequest{
		Text:             text,
		VoiceID:          c.cfg.VoiceID,
		ModelID:          c.cfg.ModelID,
		Language:         c.cfg.Language,
		SampleRate:       c.cfg.TargetSampleRate,
		ChannelCount:     1,
		DesiredEncoding:  "LINEAR16",
		DesiredContainer: "wav",
	})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("encode synthesis request: %w", err)
	}

	var (
		body        []byte
		contentType string
	)
	for attempt := 0; ; attempt++ {
		body, contentType, err = c.post(ctx, payload)
		if err == nil {
			break
		}
		var se *statusError
		retryable := errors.As(err, &se) && reliability.IsRetryableHTTPStatus(se.code)
		if !retryable || attempt >= c.cfg.MaxRetries {
			return audio.Clip{}, err
		}
		backoff := reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 2*time.Second)
		select {
		case <-ctx.Done():
			return audio.Clip{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return Normalize(ctx, body, contentType, c.cfg.TargetSampleRate, c.fetch)
}

type statusError struct {
	code int
	body []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("synthesis provider status %d: %s", e.code, truncate(e.body, 200))
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav, application/json")
	if c.cfg.AuthHeader != "" {
		req.Header.Set("Authorization", c.cfg.AuthHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read synthesis response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", &statusError{code: resp.StatusCode, body: body}
	}
	return body, strings.ToLower(resp.Header.Get("Content-Type")), nil
}

// fetch retrieves a referenced audio URL during normalization.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch referenced audio: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read referenced audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch referenced audio: status %d", resp.StatusCode)
	}
	return body, strings.ToLower(resp.Header.Get("Content-Type")), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
