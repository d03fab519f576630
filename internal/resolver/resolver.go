// Package resolver replaces anonymous diarization labels with enrolled identities.
package resolver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/media"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/voiceprint"
	"github.com/hyperjump/koe/pkg/utils"
)

// Matcher finds the enrolled identities closest to a voice embedding.
type Matcher interface {
	Match(ctx context.Context, emb []float32, topK int) ([]models.VoiceMatch, error)
	Size() int
}

// Resolver groups a transcript's segments by speaker label, embeds each speaker's combined
// audio and looks it up in the registry.
type Resolver struct {
	registry     Matcher
	model        voiceprint.Model
	scratch      *media.Scratch
	maxDistance  float64
	warnDistance float64
	logger       *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxDistance leaves a speaker unresolved when its best match is farther than d.
// Zero always takes the nearest identity.
func WithMaxDistance(d float64) Option {
	return func(r *Resolver) { r.maxDistance = d }
}

// WithWarnDistance logs a warning for every accepted match farther than d.
func WithWarnDistance(d float64) Option {
	return func(r *Resolver) { r.warnDistance = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// New creates a resolver. scratch provides the temp clips handed to model.
func New(registry Matcher, model voiceprint.Model, scratch *media.Scratch, opts ...Option) *Resolver {
	r := &Resolver{registry: registry, model: model, scratch: scratch}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = utils.Named(r.logger, "resolver")
	return r
}

// group is one speaker's segments in transcript order.
type group struct {
	label models.SpeakerLabel
	spans []media.Span
}

func groupByLabel(t *models.DiarizationTranscript) []group {
	index := make(map[models.SpeakerLabel]int)
	var groups []group
	for _, seg := range t.Segments {
		i, ok := index[seg.Speaker]
		if !ok {
			i = len(groups)
			index[seg.Speaker] = i
			groups = append(groups, group{label: seg.Speaker})
		}
		groups[i].spans = append(groups[i].spans, media.Span{Start: seg.Start, End: seg.End})
	}
	return groups
}

// Resolve returns t with every label replaced by the matched identity's name, or kept when
// the match is beyond the distance threshold. Time ranges and text are unchanged.
// Nothing is relabeled when any speaker fails to resolve.
func (r *Resolver) Resolve(ctx context.Context, t *models.DiarizationTranscript) (*models.ResolvedTranscript, error) {
	if r.registry.Size() == 0 {
		return nil, apperr.New(apperr.ErrEmptyRegistry, "no registered speakers")
	}
	if t.AudioPath == "" && len(t.Segments) > 0 {
		return nil, fmt.Errorf("transcript has no source audio")
	}

	groups := groupByLabel(t)
	resolutions := make([]models.Resolution, 0, len(groups))
	names := make(map[models.SpeakerLabel]string, len(groups))
	for _, g := range groups {
		res, err := r.resolveGroup(ctx, t.AudioPath, g)
		if err != nil {
			return nil, fmt.Errorf("speaker %s: %w", g.label, err)
		}
		resolutions = append(resolutions, res)
		names[g.label] = res.DisplayName()
	}

	out := &models.ResolvedTranscript{
		AudioPath:   t.AudioPath,
		Segments:    make([]models.ResolvedSegment, len(t.Segments)),
		Resolutions: resolutions,
	}
	for i, seg := range t.Segments {
		out.Segments[i] = models.ResolvedSegment{
			Speaker: names[seg.Speaker],
			Label:   string(seg.Speaker),
			Start:   seg.Start,
			End:     seg.End,
			Text:    seg.Text,
		}
	}
	return out, nil
}

func (r *Resolver) resolveGroup(ctx context.Context, audioPath string, g group) (models.Resolution, error) {
	res := models.Resolution{Label: g.label}

	clip, release, err := r.scratch.Clip(ctx, audioPath, g.spans)
	if err != nil {
		return res, apperr.Wrap(apperr.ErrEmbedding, err, "cut speaker audio")
	}
	defer release()

	emb, err := r.model.Embed(ctx, clip)
	if err != nil {
		return res, err
	}
	matches, err := r.registry.Match(ctx, emb, 1)
	if err != nil {
		return res, err
	}
	if len(matches) == 0 {
		return res, apperr.New(apperr.ErrEmptyRegistry, "no registered speakers")
	}

	best := matches[0]
	res.Distance = best.Distance
	if r.maxDistance > 0 && best.Distance > r.maxDistance {
		r.logger.Info("speaker left unresolved",
			zap.String("label", string(g.label)),
			zap.String("nearest", best.Identity.Name),
			zap.Float64("distance", best.Distance),
			zap.Float64("max_distance", r.maxDistance))
		return res, nil
	}
	if r.warnDistance > 0 && best.Distance > r.warnDistance {
		r.logger.Warn("weak speaker match",
			zap.String("label", string(g.label)),
			zap.String("identity", best.Identity.Name),
			zap.Float64("distance", best.Distance))
	}
	identity := best.Identity
	res.Identity = &identity
	res.Resolved = true
	r.logger.Debug("speaker resolved",
		zap.String("label", string(g.label)),
		zap.String("identity", identity.Name),
		zap.Int("segments", len(g.spans)),
		zap.Float64("distance", best.Distance))
	return res, nil
}
