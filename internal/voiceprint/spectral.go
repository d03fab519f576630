package voiceprint

import (
	"context"
	"errors"
	"math"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/media"
)

const (
	spectralBands   = 24
	spectralFrame   = 512
	spectralMinHz   = 80.0
	spectralMaxHz   = 4000.0
	spectralFloorDB = -80.0
)

// SpectralModel is an in-process voiceprint: average log band energies over the clip,
// measured with the Goertzel algorithm at log-spaced frequencies. It separates voices with
// clearly different pitch and timbre and needs no model files, which makes it suitable for
// tests and offline demos. Input must be WAV.
type SpectralModel struct {
	centers []float64
}

// NewSpectralModel creates the model.
func NewSpectralModel() *SpectralModel {
	centers := make([]float64, spectralBands)
	ratio := math.Pow(spectralMaxHz/spectralMinHz, 1/float64(spectralBands-1))
	f := spectralMinHz
	for i := range centers {
		centers[i] = f
		f *= ratio
	}
	return &SpectralModel{centers: centers}
}

// Name returns the provider name.
func (m *SpectralModel) Name() string { return "spectral" }

// Dimensions returns the embedding length.
func (m *SpectralModel) Dimensions() int { return spectralBands }

// Embed implements Model.
func (m *SpectralModel) Embed(ctx context.Context, audioPath string) ([]float32, error) {
	clip, err := media.ReadWAV(audioPath)
	if err != nil {
		if errors.Is(err, media.ErrEmptyAudio) {
			return nil, apperr.Wrap(apperr.ErrEmbedding, err, "voice embedding")
		}
		return nil, apperr.Wrap(apperr.ErrEmbedding, err, "decode audio")
	}
	return m.EmbedClip(ctx, clip)
}

// EmbedClip embeds decoded audio.
func (m *SpectralModel) EmbedClip(ctx context.Context, clip *media.Clip) ([]float32, error) {
	if len(clip.Samples) < spectralFrame/4 {
		return nil, apperr.New(apperr.ErrEmbedding, "audio too short for a voiceprint (%d samples)", len(clip.Samples))
	}
	energy := make([]float64, spectralBands)
	frames := 0
	for start := 0; start < len(clip.Samples); start += spectralFrame {
		if frames%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		end := min(start+spectralFrame, len(clip.Samples))
		frame := clip.Samples[start:end]
		for b, f := range m.centers {
			if f >= float64(clip.SampleRate)/2 {
				continue
			}
			energy[b] += goertzel(frame, f, clip.SampleRate)
		}
		frames++
	}

	out := make([]float32, spectralBands)
	var total float64
	for _, e := range energy {
		total += e
	}
	if total == 0 {
		return nil, apperr.New(apperr.ErrEmbedding, "audio is silent")
	}
	// log energies relative to the loudest band, so loudness does not move the voiceprint
	peak := 0.0
	for _, e := range energy {
		peak = math.Max(peak, e)
	}
	for i, e := range energy {
		db := spectralFloorDB
		if e > 0 {
			db = math.Max(spectralFloorDB, 10*math.Log10(e/peak))
		}
		out[i] = float32(1 - db/spectralFloorDB)
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

// goertzel returns the power of freq in frame.
func goertzel(frame []float64, freq float64, rate int) float64 {
	w := 2 * math.Pi * freq / float64(rate)
	coeff := 2 * math.Cos(w)
	var s1, s2 float64
	for _, x := range frame {
		s0 := x + coeff*s1 - s2
		s2, s1 = s1, s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}
