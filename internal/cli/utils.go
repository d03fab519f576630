// Package cli provides output helpers for the koe command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/pipeline"
	"github.com/hyperjump/koe/pkg/utils"
)

// OutputFormat is the format of command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value. Empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text or json)", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const separator = "─────────────────────────────────────────────────────────"

// WriteQueryResults writes retrieved chunks, best first.
func WriteQueryResults(w io.Writer, response *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", len(response.Results), response.QueryTime)
	for _, hit := range response.Results {
		writeOneResult(w, hit)
	}
	return nil
}

func writeOneResult(w io.Writer, hit models.RetrievedChunk) {
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "Rank: %d | Score: %.4f (Recall: %.4f)\n", hit.Rank, hit.Score, hit.RecallScore)
	fmt.Fprintf(w, "Source: %s #%d\n", hit.Chunk.Source, hit.Chunk.Ordinal)
	fmt.Fprintf(w, "\n%s\n", utils.Truncate(hit.Chunk.Text, 200))
	fmt.Fprintln(w)
}

// WriteAnswer writes the answer followed by the context it was generated from.
func WriteAnswer(w io.Writer, resp *models.AnswerResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	if resp.Answer == "" {
		fmt.Fprintln(w, "No answer: nothing relevant is indexed.")
	} else {
		fmt.Fprintln(w, resp.Answer)
	}
	if len(resp.Sources) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Context:")
	for _, hit := range resp.Sources {
		fmt.Fprintf(w, "  %d. [%s #%d] %s\n", hit.Rank, hit.Chunk.Source, hit.Chunk.Ordinal, TruncateWords(hit.Chunk.Text, 30))
	}
	return nil
}

// analysis is the JSON shape of an analyzed recording.
type analysis struct {
	Text     string                   `json:"text"`
	Segments []models.ResolvedSegment `json:"segments"`
	Speakers []models.Resolution      `json:"speakers"`
}

// WriteAnalysis writes a resolved transcript. Text output is the rendered transcript only.
func WriteAnalysis(w io.Writer, text string, resolved *models.ResolvedTranscript, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, analysis{Text: text, Segments: resolved.Segments, Speakers: resolved.Resolutions})
	}
	_, err := io.WriteString(w, text)
	return err
}

// WriteResolutions writes one line per speaker label with its resolved name and distance.
func WriteResolutions(w io.Writer, resolutions []models.Resolution) {
	for _, r := range resolutions {
		if r.Resolved {
			fmt.Fprintf(w, "%s -> %s (distance %.4f)\n", r.Label, r.DisplayName(), r.Distance)
		} else {
			fmt.Fprintf(w, "%s -> unknown (nearest distance %.4f)\n", r.Label, r.Distance)
		}
	}
}

// WriteIdentities lists enrolled voices.
func WriteIdentities(w io.Writer, ids []models.Identity, format OutputFormat) error {
	if format == OutputJSON {
		if ids == nil {
			ids = []models.Identity{}
		}
		return writeJSON(w, ids)
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No enrolled voices.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintf(w, "%4d  %s\n", id.ID, id.Name)
	}
	return nil
}

// WriteIngestResults summarizes ingested transcripts.
func WriteIngestResults(w io.Writer, results []*pipeline.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		if results == nil {
			results = []*pipeline.IngestResult{}
		}
		return writeJSON(w, results)
	}
	total := 0
	for _, r := range results {
		switch {
		case r.Skipped:
			fmt.Fprintf(w, "%s: unchanged, skipped\n", r.Source)
		default:
			fmt.Fprintf(w, "%s: %d chunks", r.Source, r.Added)
			if len(r.Warnings) > 0 {
				fmt.Fprintf(w, " (%d lines skipped)", len(r.Warnings))
			}
			fmt.Fprintln(w)
		}
		total += r.Added
	}
	fmt.Fprintf(w, "Added %d chunks from %d files\n", total, len(results))
	return nil
}

// WriteStatus writes store counts and index state.
func WriteStatus(w io.Writer, st *pipeline.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Speakers:     %d", st.Speakers)
	if st.VoiceDimension > 0 {
		fmt.Fprintf(w, " (%d-dim voiceprints)", st.VoiceDimension)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Transcripts:  %d (%d sources, %d chunks)\n", st.Transcripts, st.Sources, st.Chunks)

	state := "not built"
	if st.Index.Built {
		state = fmt.Sprintf("%d chunks", st.Index.Size)
		if st.Index.BuiltAt != nil {
			state += ", built " + st.Index.BuiltAt.Local().Format("2006-01-02 15:04:05")
		}
	}
	if st.Index.Stale {
		state += " (stale, run build)"
	}
	fmt.Fprintf(w, "Index:        %s\n", state)
	fmt.Fprintf(w, "Retrieval:    %s recall, %s rerank\n", st.Index.RecallMode, st.Index.Reranker)
	fmt.Fprintf(w, "Generator:    %s\n", st.Generator)
	fmt.Fprintf(w, "Disk usage:   %s\n", HumanBytes(st.DiskUsageBytes))
	for _, u := range st.DiskUsage {
		fmt.Fprintf(w, "  %-10s %s\n", HumanBytes(u.Bytes), u.Path)
	}
	return nil
}

// HumanBytes formats n with a binary unit.
func HumanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
