// Package transcribe starts asynchronous speech-to-text jobs on an HTTP
// transcription service. Completion is observed separately, through the
// transcript artifact the service writes to object storage.
package transcribe

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
)

const defaultHTTPTimeout = 30 * time.Second

// Config captures the runtime settings of the transcription service
type Config struct {
	BaseURL          string
	APIKey           string
	LanguageCode     string
	MaxSpeakerLabels int
	Timeout          time.Duration
}

// StartRequest describes one transcription job
type StartRequest struct {
	JobName          string `json:"job_name"`
	MediaURI         string `json:"media_uri"`
	OutputBucket     string `json:"output_bucket"`
	OutputKey        string `json:"output_key"`
	LanguageCode     string `json:"language_code"`
	MaxSpeakerLabels int    `json:"max_speaker_labels,omitempty"`
}

// StartResponse is the service acknowledgement
type StartResponse struct {
	JobName string `json:"job_name"`
	Status  string `json:"status"`
}

// StatusError is returned for non-2xx replies
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transcription request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client calls the transcription service
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a transcription client
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "ja-JP"
	}

	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// StartTranscription submits a job and returns as soon as it is accepted
func (c *Client) StartTranscription(ctx context.Context, req StartRequest) (*StartResponse, error) {
	if req.JobName == "" || req.MediaURI == "" || req.OutputKey == "" {
		return nil, errors.New("transcription request: job name, media uri and output key are required")
	}
	if req.LanguageCode == "" {
		req.LanguageCode = c.cfg.LanguageCode
	}
	if req.MaxSpeakerLabels == 0 {
		req.MaxSpeakerLabels = c.cfg.MaxSpeakerLabels
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request: encode: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/transcriptions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transcription request: build: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("transcription request: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out StartResponse
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("transcription request: decode: %w", err)
		}
	}
	if out.JobName == "" {
		out.JobName = req.JobName
	}
	return &out, nil
}

// Document is the transcript artifact layout written by the service
type Document struct {
	JobName string `json:"jobName"`
	Results struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
	} `json:"results"`
}

// ExtractText returns the first transcript of an artifact
func ExtractText(data []byte) (string, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	if len(doc.Results.Transcripts) == 0 {
		return "", errors.New("no transcription results found")
	}
	text := strings.TrimSpace(doc.Results.Transcripts[0].Transcript)
	if text == "" {
		return "", errors.New("empty transcription text")
	}
	return text, nil
}
