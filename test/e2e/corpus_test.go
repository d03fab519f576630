package e2e

import (
	"strings"
	"testing"
	"unicode"
)

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func TestBuildCorpus_OneCasePerMeeting(t *testing.T) {
	c := BuildCorpus()
	if c.TotalMeetings != len(topics) || len(c.Meetings) != len(topics) {
		t.Errorf("expected %d meetings, got %d (%d)", len(topics), c.TotalMeetings, len(c.Meetings))
	}
	if c.TotalQueries != c.TotalMeetings {
		t.Errorf("expected one query per meeting, got %d", c.TotalQueries)
	}
	if c.ChunkCount() != 3*len(topics) {
		t.Errorf("ChunkCount() = %d", c.ChunkCount())
	}
	names := make(map[string]bool)
	for _, m := range c.Meetings {
		if names[m.Name] {
			t.Errorf("duplicate meeting name %q", m.Name)
		}
		names[m.Name] = true
	}
}

// Every query term must occur in the expected turn and nowhere else, so the lexical
// reranker has exactly one passage to prefer.
func TestBuildCorpus_QueryTermsAreUnique(t *testing.T) {
	c := BuildCorpus()
	for _, tc := range c.TestCases {
		for _, term := range words(tc.Query) {
			var holders []string
			for _, m := range c.Meetings {
				for _, l := range m.Lines {
					for _, w := range words(l.Text) {
						if w == term {
							holders = append(holders, m.Name+": "+l.Text)
							break
						}
					}
				}
			}
			if len(holders) != 1 || !strings.Contains(holders[0], tc.ExpectedText) {
				t.Errorf("term %q of query %q occurs in %v", term, tc.Query, holders)
			}
		}
	}
}

func TestMeeting_Text(t *testing.T) {
	m := Meeting{Lines: []Line{
		{Speaker: "Alice", Start: 0, End: 1, Text: "hello world"},
		{Speaker: "Bob", Start: 1, End: 2.5, Text: "goodbye"},
	}}
	want := "[Alice 0.00-1.00] hello world\n[Bob 1.00-2.50] goodbye\n"
	if got := m.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	segs := m.Segments()
	if len(segs) != 2 || segs[1].Speaker != "Bob" || segs[1].End != 2.5 {
		t.Errorf("Segments() = %+v", segs)
	}
}
