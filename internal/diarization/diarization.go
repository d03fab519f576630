// Package diarization turns a recording into a DiarizationTranscript: a diarization provider
// splits it into speaker turns and a transcriber fills in the text of each turn.
package diarization

import (
	"context"
)

// Request holds parameters for a diarization call.
type Request struct {
	// AudioPath is the path to the audio file to diarize.
	AudioPath string `json:"audio_path"`
	// NumSpeakers is the exact number of speakers (0 = auto-detect).
	NumSpeakers int `json:"num_speakers,omitempty"`
	// MinSpeakers is the minimum expected number of speakers.
	MinSpeakers int `json:"min_speakers,omitempty"`
	// MaxSpeakers is the maximum expected number of speakers.
	MaxSpeakers int `json:"max_speakers,omitempty"`
	// Language is the expected language of the audio (e.g. "ru").
	Language string `json:"language,omitempty"`
}

// Turn is one speaker turn as reported by the provider. Text is filled when the provider
// also transcribes.
type Turn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text,omitempty"`
}

// Provider finds who spoke when.
type Provider interface {
	Name() string
	Diarize(ctx context.Context, req Request) ([]Turn, error)
}

// Transcriber converts one audio clip to text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, clipPath, language string) (string, error)
}
