// Package e2e holds end-to-end tests that run the whole pipeline on generated meeting transcripts.
package e2e

import (
	"fmt"
	"strings"

	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/transcript"
)

// Line is one speaker turn of a generated meeting.
type Line struct {
	Speaker    string
	Start, End float64
	Text       string
}

// Meeting is one generated transcript.
type Meeting struct {
	Name  string
	Lines []Line
}

// Text renders the meeting in segment format.
func (m Meeting) Text() string {
	var b strings.Builder
	for _, l := range m.Lines {
		b.WriteString(transcript.FormatLine(l.Speaker, l.Start, l.End, l.Text))
		b.WriteByte('\n')
	}
	return b.String()
}

// Segments returns the lines as transcript segments.
func (m Meeting) Segments() []models.TranscriptSegment {
	out := make([]models.TranscriptSegment, len(m.Lines))
	for i, l := range m.Lines {
		out[i] = models.TranscriptSegment{Speaker: models.SpeakerLabel(l.Speaker), Start: l.Start, End: l.End, Text: l.Text}
	}
	return out
}

// QueryTestCase is a query whose best hit must be one known segment.
type QueryTestCase struct {
	Query        string
	ExpectedFile string
	ExpectedText string
	Description  string
}

// Corpus is the generated meeting set and its query cases.
type Corpus struct {
	Meetings      []Meeting
	TestCases     []QueryTestCase
	TotalMeetings int
	TotalQueries  int
}

// topic is one meeting: the middle turn carries the signature phrase that only it contains.
type topic struct {
	name      string
	signature string
	middle    string
}

var topics = []topic{
	{"standup-billing", "billing migration", "the billing migration finished overnight without incidents"},
	{"planning-roadmap", "quarterly roadmap", "we agreed the quarterly roadmap needs one more pass"},
	{"growth-sync", "pricing experiment", "the pricing experiment doubled trial signups"},
	{"people-onboarding", "onboarding checklist", "new hires get the onboarding checklist on day one"},
	{"platform-kafka", "kafka consumers", "two kafka consumers are lagging behind since friday"},
	{"eng-hiring", "hiring plan", "the hiring plan adds three engineers in spring"},
	{"facilities", "office relocation", "the office relocation moves to the second floor in june"},
	{"security-weekly", "security audit", "external security audit starts next week"},
	{"mobile-sync", "android build", "the android build is broken on the release branch"},
	{"dr-drill", "database failover", "database failover took forty seconds in the drill"},
	{"cs-review", "customer churn", "customer churn dropped after the support changes"},
	{"marketing-sync", "marketing budget", "the marketing budget is frozen until july"},
	{"devrel", "conference talk", "my conference talk was accepted for october"},
	{"finance-ops", "invoice backlog", "the invoice backlog is down to twelve items"},
	{"perf-triage", "latency regression", "we found a latency regression in the search service"},
	{"legal-sync", "vendor contract", "legal is reviewing the vendor contract today"},
	{"team-admin", "holiday schedule", "please put your holiday schedule in the shared calendar"},
	{"frontend-sync", "accessibility fixes", "accessibility fixes ship with the next patch"},
	{"i18n", "localization glossary", "the localization glossary covers german and japanese"},
	{"infra-oncall", "disk quota", "we hit the disk quota on the log server"},
	{"finance-reminder", "expense reports", "submit expense reports before the fifteenth"},
	{"partnerships", "partner webinar", "the partner webinar drew two hundred attendees"},
	{"logistics", "warehouse inventory", "warehouse inventory counts are off by three percent"},
	{"infra-certs", "certificate renewal", "the certificate renewal for the api gateway is due"},
}

var (
	speakers = []string{"Alice", "Bob", "Carol", "Dmitri"}
	openers  = []string{"good morning everyone", "thanks for joining", "let us get started", "hi all, short one today"}
	closers  = []string{"sounds good, thanks", "okay, see you tomorrow", "I will send the notes", "that is all from me"}
)

// BuildCorpus returns one meeting per topic, each saved under a different file extension
// by ExtensionFor, and one query case per meeting.
func BuildCorpus() *Corpus {
	c := &Corpus{}
	for i, t := range topics {
		lead := speakers[i%len(speakers)]
		other := speakers[(i+1)%len(speakers)]
		m := Meeting{
			Name: fmt.Sprintf("%02d-%s%s", i+1, t.name, ExtensionFor(i)),
			Lines: []Line{
				{Speaker: lead, Start: 0, End: 4, Text: openers[i%len(openers)]},
				{Speaker: other, Start: 4, End: 9, Text: t.middle},
				{Speaker: lead, Start: 9, End: 12, Text: closers[i%len(closers)]},
			},
		}
		c.Meetings = append(c.Meetings, m)
		c.TestCases = append(c.TestCases, QueryTestCase{
			Query:        t.signature,
			ExpectedFile: m.Name,
			ExpectedText: t.middle,
			Description:  fmt.Sprintf("%s finds %s", t.signature, m.Name),
		})
	}
	c.TotalMeetings = len(c.Meetings)
	c.TotalQueries = len(c.TestCases)
	return c
}

// ChunkCount is the number of segments the corpus ingests into.
func (c *Corpus) ChunkCount() int {
	n := 0
	for _, m := range c.Meetings {
		n += len(m.Lines)
	}
	return n
}
