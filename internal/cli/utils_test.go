package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/pipeline"
	"github.com/hyperjump/koe/internal/storage"
)

func sampleHits() []models.RetrievedChunk {
	return []models.RetrievedChunk{
		{Chunk: models.Chunk{Text: "the launch moved to friday", Source: "plan.txt", Ordinal: 0}, Score: 100, RecallScore: 0.8, Rank: 1},
		{Chunk: models.Chunk{Text: "lunch is at noon", Source: "plan.txt", Ordinal: 1}, Score: 0, RecallScore: 0.3, Rank: 2},
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOutputFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteQueryResults_JSON(t *testing.T) {
	response := &models.QueryResponse{Query: "launch", Results: sampleHits(), QueryTime: 42}
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteQueryResults(json): %v", err)
	}
	var decoded models.QueryResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != "launch" || decoded.QueryTime != 42 {
		t.Errorf("decoded query=%q query_time=%d", decoded.Query, decoded.QueryTime)
	}
	if len(decoded.Results) != 2 || decoded.Results[0].Chunk.Source != "plan.txt" {
		t.Errorf("decoded results: %+v", decoded.Results)
	}
}

func TestWriteQueryResults_text(t *testing.T) {
	response := &models.QueryResponse{Query: "launch", Results: sampleHits(), QueryTime: 7}
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, response, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Found 2 results in 7ms",
		"Rank: 1 | Score: 100.0000 (Recall: 0.8000)",
		"Source: plan.txt #1",
		"the launch moved to friday",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "friday") > strings.Index(out, "noon") {
		t.Error("results must keep rank order")
	}
}

func TestWriteAnswer(t *testing.T) {
	resp := &models.AnswerResponse{
		Question: "when is the launch",
		Answer:   "Friday.",
		Context:  []string{"the launch moved to friday"},
		Sources:  sampleHits()[:1],
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "Friday.\n") {
		t.Errorf("answer should come first:\n%s", out)
	}
	if !strings.Contains(out, "1. [plan.txt #0] the launch moved to friday") {
		t.Errorf("missing context line:\n%s", out)
	}

	buf.Reset()
	if err := WriteAnswer(&buf, &models.AnswerResponse{Question: "q"}, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No answer") {
		t.Errorf("empty answer: got %q", buf.String())
	}

	buf.Reset()
	if err := WriteAnswer(&buf, resp, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.AnswerResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Answer != "Friday." {
		t.Errorf("decoded answer %q", decoded.Answer)
	}
}

func TestWriteAnalysisAndResolutions(t *testing.T) {
	alice := &models.Identity{ID: 0, Name: "Alice"}
	resolved := &models.ResolvedTranscript{
		Segments: []models.ResolvedSegment{{Speaker: "Alice", Label: "SPEAKER_00", Start: 0, End: 1, Text: "hello"}},
		Resolutions: []models.Resolution{
			{Label: "SPEAKER_00", Identity: alice, Distance: 0.125, Resolved: true},
			{Label: "SPEAKER_01", Distance: 3.5},
		},
	}
	text := "[Alice 0.00-1.00] hello\n"

	var buf bytes.Buffer
	if err := WriteAnalysis(&buf, text, resolved, OutputText); err != nil {
		t.Fatal(err)
	}
	if buf.String() != text {
		t.Errorf("text output: got %q", buf.String())
	}

	buf.Reset()
	if err := WriteAnalysis(&buf, text, resolved, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Text     string              `json:"text"`
		Speakers []models.Resolution `json:"speakers"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Text != text || len(decoded.Speakers) != 2 {
		t.Errorf("decoded: %+v", decoded)
	}

	buf.Reset()
	WriteResolutions(&buf, resolved.Resolutions)
	want := "SPEAKER_00 -> Alice (distance 0.1250)\nSPEAKER_01 -> unknown (nearest distance 3.5000)\n"
	if buf.String() != want {
		t.Errorf("resolutions:\ngot  %q\nwant %q", buf.String(), want)
	}
}

func TestWriteIdentities(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteIdentities(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No enrolled voices") {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	if err := WriteIdentities(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty JSON list: got %q", buf.String())
	}

	buf.Reset()
	ids := []models.Identity{{ID: 0, Name: "Alice"}, {ID: 1, Name: "Bob"}}
	if err := WriteIdentities(&buf, ids, OutputText); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "   0  Alice\n   1  Bob\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteIngestResults(t *testing.T) {
	results := []*pipeline.IngestResult{
		{Source: "a.txt", Added: 3, Warnings: []string{"a.txt:2: no segment header"}},
		{Source: "b.txt", Skipped: true},
	}
	var buf bytes.Buffer
	if err := WriteIngestResults(&buf, results, OutputText); err != nil {
		t.Fatal(err)
	}
	want := "a.txt: 3 chunks (1 lines skipped)\nb.txt: unchanged, skipped\nAdded 3 chunks from 2 files\n"
	if buf.String() != want {
		t.Errorf("got:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestWriteStatus(t *testing.T) {
	builtAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	st := &pipeline.Status{
		Speakers:       2,
		VoiceDimension: 48,
		Transcripts:    1,
		Sources:        1,
		Chunks:         3,
		Generator:      "extractive",
		Index: pipeline.IndexStatus{
			Built: true, Size: 2, BuiltAt: &builtAt, Stale: true,
			RecallMode: "vector", Reranker: "lexical",
		},
		DiskUsage:      []storage.Usage{{Path: "/data/voices.tsv", Bytes: 2048}},
		DiskUsageBytes: 2048,
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Speakers:     2 (48-dim voiceprints)",
		"Transcripts:  1 (1 sources, 3 chunks)",
		"(stale, run build)",
		"Retrieval:    vector recall, lexical rerank",
		"Generator:    extractive",
		"Disk usage:   2.0 KiB",
		"/data/voices.tsv",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	st.Index = pipeline.IndexStatus{}
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Index:        not built") {
		t.Errorf("unbuilt index:\n%s", buf.String())
	}
}

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := HumanBytes(tt.n); got != tt.want {
			t.Errorf("HumanBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		s        string
		maxWords int
		want     string
	}{
		{"one two three", 5, "one two three"},
		{"one two three", 2, "one two..."},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := TruncateWords(tt.s, tt.maxWords); got != tt.want {
			t.Errorf("TruncateWords(%q, %d) = %q, want %q", tt.s, tt.maxWords, got, tt.want)
		}
	}
}
