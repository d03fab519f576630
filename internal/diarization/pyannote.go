package diarization

import (
	"context"
	"strconv"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/sidecar"
)

const defaultPyannoteURL = "http://localhost:8388"

// PyannoteProvider calls a pyannote speaker-diarization sidecar.
//
//	POST /diarize  multipart "audio" (+ num_speakers, min_speakers, max_speakers, language)
//	  -> {"segments": [{"speaker_id", "start_time", "end_time", "text"}], "num_speakers", "error"}
type PyannoteProvider struct {
	client *sidecar.Client
}

// NewPyannoteProvider creates a provider for the sidecar described by cfg.
func NewPyannoteProvider(cfg sidecar.Config) *PyannoteProvider {
	return &PyannoteProvider{client: sidecar.New("pyannote", defaultPyannoteURL, cfg)}
}

// Name returns the provider name.
func (p *PyannoteProvider) Name() string { return "pyannote" }

// IsAvailable checks if the sidecar is reachable.
func (p *PyannoteProvider) IsAvailable(ctx context.Context) bool {
	return p.client.IsAvailable(ctx)
}

type pyannoteResponse struct {
	Segments    []pyannoteSegment `json:"segments"`
	NumSpeakers int               `json:"num_speakers"`
	Error       string            `json:"error,omitempty"`
}

type pyannoteSegment struct {
	SpeakerID string  `json:"speaker_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text,omitempty"`
}

// Diarize implements Provider.
func (p *PyannoteProvider) Diarize(ctx context.Context, req Request) ([]Turn, error) {
	fields := make(map[string]string)
	if req.NumSpeakers > 0 {
		fields["num_speakers"] = strconv.Itoa(req.NumSpeakers)
	}
	if req.MinSpeakers > 0 {
		fields["min_speakers"] = strconv.Itoa(req.MinSpeakers)
	}
	if req.MaxSpeakers > 0 {
		fields["max_speakers"] = strconv.Itoa(req.MaxSpeakers)
	}
	if req.Language != "" {
		fields["language"] = req.Language
	}

	var resp pyannoteResponse
	if err := p.client.PostAudio(ctx, "/diarize", req.AudioPath, fields, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, apperr.New(apperr.ErrCapability, "diarization: %s", resp.Error)
	}
	turns := make([]Turn, len(resp.Segments))
	for i, seg := range resp.Segments {
		turns[i] = Turn{Speaker: seg.SpeakerID, Start: seg.StartTime, End: seg.EndTime, Text: seg.Text}
	}
	return turns, nil
}
