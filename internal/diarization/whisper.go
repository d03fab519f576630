package diarization

import (
	"context"

	"github.com/hyperjump/koe/internal/sidecar"
)

const (
	defaultWhisperURL   = "http://localhost:8387"
	defaultWhisperModel = "base"
)

// WhisperTranscriber calls a faster-whisper sidecar.
//
//	POST /transcribe  multipart "audio" (+ model, language)  ->  {"text", "language"}
type WhisperTranscriber struct {
	client *sidecar.Client
	model  string
}

// NewWhisperTranscriber creates a transcriber; model defaults to "base".
func NewWhisperTranscriber(cfg sidecar.Config, model string) *WhisperTranscriber {
	if model == "" {
		model = defaultWhisperModel
	}
	return &WhisperTranscriber{client: sidecar.New("whisper", defaultWhisperURL, cfg), model: model}
}

// Name returns the provider name.
func (w *WhisperTranscriber) Name() string { return "whisper" }

// IsAvailable checks if the sidecar is reachable.
func (w *WhisperTranscriber) IsAvailable(ctx context.Context) bool {
	return w.client.IsAvailable(ctx)
}

type whisperResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe implements Transcriber.
func (w *WhisperTranscriber) Transcribe(ctx context.Context, clipPath, language string) (string, error) {
	fields := map[string]string{"model": w.model}
	if language != "" {
		fields["language"] = language
	}
	var resp whisperResponse
	if err := w.client.PostAudio(ctx, "/transcribe", clipPath, fields, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}
