// Package media cuts time spans out of recordings and joins them into one WAV clip.
package media

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

// ErrEmptyAudio is returned when a file or span selection holds no samples.
var ErrEmptyAudio = errors.New("audio has no samples")

// Span is a time range in seconds.
type Span struct {
	Start float64
	End   float64
}

// Clip is mono audio with samples in [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Slice returns the samples inside span, clamped to the clip bounds.
func (c *Clip) Slice(span Span) []float64 {
	from := int(math.Round(span.Start * float64(c.SampleRate)))
	to := int(math.Round(span.End * float64(c.SampleRate)))
	from = max(0, min(from, len(c.Samples)))
	to = max(from, min(to, len(c.Samples)))
	return c.Samples[from:to]
}

// Extract joins the given spans, in order, into a new clip.
func (c *Clip) Extract(spans []Span) *Clip {
	out := &Clip{SampleRate: c.SampleRate}
	for _, s := range spans {
		out.Samples = append(out.Samples, c.Slice(s)...)
	}
	return out
}

// ReadWAV decodes an integer PCM WAV file and downmixes it to mono.
func ReadWAV(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyAudio)
	}

	chans := buf.Format.NumChannels
	if chans <= 0 {
		chans = 1
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}
	scale := math.Pow(2, float64(depth-1))
	frames := len(buf.Data) / chans
	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < chans; ch++ {
			sum += float64(buf.Data[i*chans+ch])
		}
		samples[i] = sum / float64(chans) / scale
	}
	return &Clip{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// WriteWAV encodes c as 16-bit mono PCM.
func WriteWAV(path string, c *Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	enc := wav.NewEncoder(f, c.SampleRate, 16, 1, 1)
	data := make([]int, len(c.Samples))
	for i, s := range c.Samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * 32767))
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: c.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return f.Close()
}

// Resample converts c to rate. A clip already at rate is returned unchanged.
func Resample(c *Clip, rate int) (*Clip, error) {
	if rate <= 0 || c.SampleRate == rate || len(c.Samples) == 0 {
		return c, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(c.SampleRate),
		OutputRate: float64(rate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}
	out, err := r.Process(c.Samples)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return &Clip{Samples: out, SampleRate: rate}, nil
}
