package models

// SpeakerLabel is the anonymous per-recording tag assigned by diarization, e.g. "SPEAKER_00".
// It is never an IdentityID.
type SpeakerLabel string

// TranscriptSegment is one diarized turn. Start < End, both in seconds.
type TranscriptSegment struct {
	Speaker SpeakerLabel `json:"speaker"`
	Start   float64      `json:"start"`
	End     float64      `json:"end"`
	Text    string       `json:"text"`
}

// Duration returns End - Start.
func (s TranscriptSegment) Duration() float64 {
	return s.End - s.Start
}

// DiarizationTranscript is the ordered segment list for one recording.
type DiarizationTranscript struct {
	AudioPath string              `json:"audio_path,omitempty"`
	Segments  []TranscriptSegment `json:"segments"`
}

// Labels returns the distinct speaker labels in first-appearance order.
func (t *DiarizationTranscript) Labels() []SpeakerLabel {
	seen := make(map[SpeakerLabel]bool)
	var labels []SpeakerLabel
	for _, seg := range t.Segments {
		if !seen[seg.Speaker] {
			seen[seg.Speaker] = true
			labels = append(labels, seg.Speaker)
		}
	}
	return labels
}

// Resolution records how one anonymous label was resolved against the registry.
type Resolution struct {
	Label    SpeakerLabel `json:"label"`
	Identity *Identity    `json:"identity,omitempty"`
	Distance float64      `json:"distance"`
	Resolved bool         `json:"resolved"`
}

// DisplayName is the identity name when resolved, else the anonymous tag.
func (r Resolution) DisplayName() string {
	if r.Resolved && r.Identity != nil {
		return r.Identity.Name
	}
	return string(r.Label)
}

// ResolvedSegment is a segment whose speaker has been replaced by a display name.
type ResolvedSegment struct {
	Speaker string  `json:"speaker"`
	Label   string  `json:"label"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// ResolvedTranscript is a DiarizationTranscript after speaker resolution.
type ResolvedTranscript struct {
	AudioPath   string            `json:"audio_path,omitempty"`
	Segments    []ResolvedSegment `json:"segments"`
	Resolutions []Resolution      `json:"resolutions"`
}

// Mapping returns label -> display name for every resolution.
func (t *ResolvedTranscript) Mapping() map[SpeakerLabel]string {
	m := make(map[SpeakerLabel]string, len(t.Resolutions))
	for _, r := range t.Resolutions {
		m[r.Label] = r.DisplayName()
	}
	return m
}
