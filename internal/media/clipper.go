package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Clipper writes the concatenation of spans of src to dst as a WAV file.
type Clipper interface {
	Extract(ctx context.Context, src string, spans []Span, dst string) error
}

// NewClipper returns the clipper named by kind: "wav" (pure Go, WAV input only),
// "ffmpeg" (any input ffmpeg reads) or "auto" (ffmpeg when on PATH, else wav).
// targetRate resamples the output when positive.
func NewClipper(kind string, ffmpegPath string, targetRate int) (Clipper, error) {
	switch kind {
	case "wav":
		return &WAVClipper{TargetRate: targetRate}, nil
	case "ffmpeg":
		return &FFmpegClipper{Binary: ffmpegPath, TargetRate: targetRate}, nil
	case "auto", "":
		bin := ffmpegPath
		if bin == "" {
			bin = "ffmpeg"
		}
		if _, err := exec.LookPath(bin); err == nil {
			return &FFmpegClipper{Binary: bin, TargetRate: targetRate}, nil
		}
		return &WAVClipper{TargetRate: targetRate}, nil
	default:
		return nil, fmt.Errorf("unknown clipper: %s (supported: wav, ffmpeg, auto)", kind)
	}
}

// WAVClipper decodes WAV input in process.
type WAVClipper struct {
	TargetRate int
}

// Extract implements Clipper.
func (w *WAVClipper) Extract(ctx context.Context, src string, spans []Span, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clip, err := ReadWAV(src)
	if err != nil {
		return err
	}
	out := clip.Extract(spans)
	if len(out.Samples) == 0 {
		return fmt.Errorf("%s: %w", src, ErrEmptyAudio)
	}
	if out, err = Resample(out, w.TargetRate); err != nil {
		return err
	}
	return WriteWAV(dst, out)
}

// FFmpegClipper shells out to ffmpeg, so compressed inputs such as mp3 work too.
type FFmpegClipper struct {
	Binary     string
	TargetRate int
}

// Extract implements Clipper.
func (f *FFmpegClipper) Extract(ctx context.Context, src string, spans []Span, dst string) error {
	if len(spans) == 0 {
		return fmt.Errorf("%s: %w", src, ErrEmptyAudio)
	}
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	args := []string{"-y", "-v", "error", "-i", src,
		"-filter_complex", concatFilter(spans),
		"-map", "[out]", "-ac", "1"}
	if f.TargetRate > 0 {
		args = append(args, "-ar", strconv.Itoa(f.TargetRate))
	}
	args = append(args, "-f", "wav", dst)

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// concatFilter builds an atrim/concat filter graph selecting spans in order.
func concatFilter(spans []Span) string {
	var b strings.Builder
	for i, s := range spans {
		fmt.Fprintf(&b, "[0:a]atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS[a%d];", s.Start, s.End, i)
	}
	for i := range spans {
		fmt.Fprintf(&b, "[a%d]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=0:a=1[out]", len(spans))
	return b.String()
}
