// Package transcript reads and writes the line-oriented transcript format
//
//	[<speaker> <start>-<end>] <text>
//
// with start and end printed as seconds with two decimals.
package transcript

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/models"
)

// The speaker group is lazy so resolved names containing spaces still parse.
var linePattern = regexp.MustCompile(`^\[(.+?) ([0-9]+(?:\.[0-9]+)?)-([0-9]+(?:\.[0-9]+)?)\] ?(.*)$`)

// FormatLine renders one segment line without a trailing newline.
func FormatLine(speaker string, start, end float64, text string) string {
	return fmt.Sprintf("[%s %.2f-%.2f] %s", speaker, start, end, text)
}

// Render writes every segment of t, one line each, newline terminated.
func Render(t *models.DiarizationTranscript) string {
	var b strings.Builder
	for _, seg := range t.Segments {
		b.WriteString(FormatLine(string(seg.Speaker), seg.Start, seg.End, seg.Text))
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderResolved writes a resolved transcript with display names in place of labels.
func RenderResolved(t *models.ResolvedTranscript) string {
	var b strings.Builder
	for _, seg := range t.Segments {
		b.WriteString(FormatLine(seg.Speaker, seg.Start, seg.End, seg.Text))
		b.WriteByte('\n')
	}
	return b.String()
}

// LineError describes a line that does not follow the segment format.
// It matches apperr.ErrFormat with errors.Is.
type LineError struct {
	Source string
	Line   int
	Text   string
	Reason string
}

func (e *LineError) Error() string {
	src := e.Source
	if src == "" {
		src = "<input>"
	}
	return fmt.Sprintf("%s:%d: %s: %q", src, e.Line, e.Reason, e.Text)
}

// Is reports whether target is apperr.ErrFormat.
func (e *LineError) Is(target error) bool {
	return target == apperr.ErrFormat
}

// ParseLine parses a single line. ok is false when the line does not match the format.
func ParseLine(line string) (seg models.TranscriptSegment, ok bool, reason string) {
	line = strings.TrimRight(line, "\r")
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return seg, false, "no segment header"
	}
	start, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return seg, false, "bad start time"
	}
	end, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return seg, false, "bad end time"
	}
	if start >= end {
		return seg, false, "start not before end"
	}
	return models.TranscriptSegment{
		Speaker: models.SpeakerLabel(m[1]),
		Start:   start,
		End:     end,
		Text:    m[4],
	}, true, ""
}

// Parse reads every segment line of text. Blank lines are ignored; other lines that
// do not match are returned as warnings and skipped.
func Parse(text, source string) (*models.DiarizationTranscript, []*LineError) {
	t := &models.DiarizationTranscript{}
	var warnings []*LineError
	// no line length cap, a long turn must not end the transcript early
	for i, line := range strings.Split(text, "\n") {
		n := i + 1
		if strings.TrimSpace(line) == "" {
			continue
		}
		seg, ok, reason := ParseLine(line)
		if !ok {
			warnings = append(warnings, &LineError{Source: source, Line: n, Text: line, Reason: reason})
			continue
		}
		t.Segments = append(t.Segments, seg)
	}
	return t, warnings
}

// Relabel replaces the speaker of every line whose speaker is a key of mapping.
// A label is replaced only as a whole token, so SPEAKER_1 never rewrites SPEAKER_10,
// and each line is rewritten at most once, so swapped labels do not chain.
func Relabel(text string, mapping map[models.SpeakerLabel]string) string {
	lines := strings.SplitAfter(text, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "[") {
			continue
		}
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			continue
		}
		if name, ok := mapping[models.SpeakerLabel(line[1:sp])]; ok {
			lines[i] = "[" + name + line[sp:]
		}
	}
	return strings.Join(lines, "")
}
