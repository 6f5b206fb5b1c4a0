// Package meeting holds the domain model of the processing pipeline: the
// meeting record aggregate, its status state machine, timed speaker
// segments, speaker-name mappings and the shared error taxonomy.
package meeting

import (
	"sort"
	"time"
)

// DefaultAudioRetention is how long an uploaded audio payload is kept
// before the retention sweep may delete it. Derived text is never expired.
const DefaultAudioRetention = 90 * 24 * time.Hour

// Segment is a timed span of text attributed to one speaker label.
// Offsets are seconds from the start of the recording once merged; the
// transcription adapter produces chunk-local offsets that the merger
// re-bases.
type Segment struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Meeting is the aggregate root of processing. Title, meeting date and the
// audio reference are immutable once set by upload; everything else is
// stage output owned by the pipeline.
type Meeting struct {
	ID        string
	TeamID    string
	CreatedBy string

	Title       string
	MeetingDate time.Time

	AudioPath      string
	AudioExpiresAt time.Time

	Status       Status
	ErrorMessage string

	Transcript          string
	Segments            []Segment
	CorrectedTranscript string
	CorrectedSegments   []Segment
	Summary             string

	WikiPageID    string
	WikiPageURL   string
	ChatMessageID string
	ChatChannel   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAudio reports whether the original audio payload is still referenced.
func (m *Meeting) HasAudio() bool { return m.AudioPath != "" }

// SpeakerLabels returns the distinct speaker labels of the raw segments in
// first-appearance order.
func (m *Meeting) SpeakerLabels() []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, s := range m.Segments {
		if s.Speaker == "" {
			continue
		}
		if _, ok := seen[s.Speaker]; !ok {
			seen[s.Speaker] = struct{}{}
			labels = append(labels, s.Speaker)
		}
	}
	return labels
}

// SpeakerMapping associates a provider-assigned speaker label with a
// user-supplied display name, scoped to one meeting. Created lazily with an
// empty name when the label first appears in raw segments.
type SpeakerMapping struct {
	ID           int64
	MeetingID    string
	SpeakerLabel string
	SpeakerName  string
	CreatedAt    time.Time
}

// ChatLine is one line of the derived "chat view": a corrected segment with
// the current speaker mapping applied. Never persisted; always recomputed
// from (corrected segments × mappings).
type ChatLine struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// ChatView renders the corrected segments (falling back to raw segments
// when correction has not run) with mapped speaker names substituted for
// labels. Unmapped labels are shown as-is.
func (m *Meeting) ChatView(mappings []SpeakerMapping) []ChatLine {
	names := make(map[string]string, len(mappings))
	for _, mp := range mappings {
		if mp.SpeakerName != "" {
			names[mp.SpeakerLabel] = mp.SpeakerName
		}
	}

	segments := m.CorrectedSegments
	if len(segments) == 0 {
		segments = m.Segments
	}

	lines := make([]ChatLine, 0, len(segments))
	for _, s := range segments {
		speaker := s.Speaker
		if name, ok := names[speaker]; ok {
			speaker = name
		}
		lines = append(lines, ChatLine{
			Speaker: speaker,
			Text:    s.Text,
			Start:   s.Start,
			End:     s.End,
		})
	}
	return lines
}

// SortSegments orders segments by start time, keeping the original relative
// order of equal starts (chunk order, then within-chunk order).
func SortSegments(segments []Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Start < segments[j].Start
	})
}
