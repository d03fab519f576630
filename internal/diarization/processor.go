package diarization

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/koe/internal/media"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/pkg/utils"
)

// Processor produces a DiarizationTranscript from a recording.
type Processor struct {
	provider    Provider
	transcriber Transcriber
	scratch     *media.Scratch
	workers     int
	language    string
	logger      *zap.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// WithWorkers bounds concurrent transcription calls.
func WithWorkers(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLanguage passes a language hint to both capabilities.
func WithLanguage(lang string) Option {
	return func(p *Processor) { p.language = lang }
}

// NewProcessor creates a processor. transcriber may be nil when the provider returns text.
func NewProcessor(provider Provider, transcriber Transcriber, scratch *media.Scratch, opts ...Option) *Processor {
	p := &Processor{provider: provider, transcriber: transcriber, scratch: scratch, workers: 2}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.Named(p.logger, "diarization")
	return p
}

// Process diarizes audioPath and transcribes every turn that came back without text.
// Turns with start >= end are dropped with a warning. Segment order follows the provider.
func (p *Processor) Process(ctx context.Context, audioPath string) (*models.DiarizationTranscript, error) {
	turns, err := p.provider.Diarize(ctx, Request{AudioPath: audioPath, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("diarize %s: %w", audioPath, err)
	}

	segments := make([]models.TranscriptSegment, 0, len(turns))
	for _, t := range turns {
		if t.Start >= t.End || t.Start < 0 {
			p.logger.Warn("dropping empty speaker turn",
				zap.String("speaker", t.Speaker),
				zap.Float64("start", t.Start),
				zap.Float64("end", t.End))
			continue
		}
		segments = append(segments, models.TranscriptSegment{
			Speaker: models.SpeakerLabel(t.Speaker),
			Start:   t.Start,
			End:     t.End,
			Text:    strings.TrimSpace(t.Text),
		})
	}

	if p.transcriber != nil {
		if err := p.transcribeMissing(ctx, audioPath, segments); err != nil {
			return nil, err
		}
	}

	p.logger.Info("recording processed",
		zap.String("audio", audioPath),
		zap.Int("turns", len(turns)),
		zap.Int("segments", len(segments)))
	return &models.DiarizationTranscript{AudioPath: audioPath, Segments: segments}, nil
}

// transcribeMissing fills segments[i].Text in place. Each worker writes only its own index.
func (p *Processor) transcribeMissing(ctx context.Context, audioPath string, segments []models.TranscriptSegment) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range segments {
		if segments[i].Text != "" {
			continue
		}
		i := i
		g.Go(func() error {
			seg := segments[i]
			clip, release, err := p.scratch.Clip(gctx, audioPath, []media.Span{{Start: seg.Start, End: seg.End}})
			if err != nil {
				return fmt.Errorf("cut turn %d: %w", i, err)
			}
			defer release()
			text, err := p.transcriber.Transcribe(gctx, clip, p.language)
			if err != nil {
				return fmt.Errorf("transcribe turn %d (%.2f-%.2f): %w", i, seg.Start, seg.End, err)
			}
			segments[i].Text = strings.TrimSpace(text)
			return nil
		})
	}
	return g.Wait()
}
