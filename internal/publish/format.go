package publish

import (
	"fmt"
	"strings"

	"github.com/openminutes/openminutes/internal/meeting"
)

// WikiTitle builds the document title, e.g. "[Minutes] 0412 Sprint Review".
func WikiTitle(m *meeting.Meeting) string {
	return fmt.Sprintf("[Minutes] %s %s", m.MeetingDate.Format("0102"), m.Title)
}

// WikiDocument renders the full meeting record as a markdown document:
// header, summary, then the speaker-attributed transcript with the current
// speaker mappings applied.
func WikiDocument(m *meeting.Meeting, mappings []meeting.SpeakerMapping) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", m.Title)
	fmt.Fprintf(&b, "**Meeting date:** %s\n\n", m.MeetingDate.Format("2006-01-02 15:04"))
	if m.CreatedBy != "" {
		fmt.Fprintf(&b, "**Recorded by:** %s\n\n", m.CreatedBy)
	}
	b.WriteString("---\n\n## Summary\n\n")

	if m.Summary != "" {
		b.WriteString(m.Summary)
	} else {
		b.WriteString("(no summary)")
	}
	b.WriteString("\n\n---\n\n## Full transcript\n\n")

	lines := m.ChatView(mappings)
	if len(lines) == 0 {
		if text := transcriptFallback(m); text != "" {
			b.WriteString(text)
		} else {
			b.WriteString("(no transcript)")
		}
	}
	for _, line := range lines {
		fmt.Fprintf(&b, "**%s:** %s\n\n", line.Speaker, line.Text)
	}

	return b.String()
}

// ChatMessage renders the summary announcement for the chat channel:
// a short header plus a trimmed summary excerpt and attendee list.
func ChatMessage(m *meeting.Meeting, mappings []meeting.SpeakerMapping) (title, body string) {
	title = fmt.Sprintf("📝 %s (%s)", m.Title, m.MeetingDate.Format("2006-01-02 15:04"))

	var b strings.Builder
	if attendees := attendeeNames(m, mappings); len(attendees) > 0 {
		fmt.Fprintf(&b, "**Attendees:** %s\n\n", strings.Join(attendees, ", "))
	}
	b.WriteString(excerpt(m.Summary, 1500))
	if m.WikiPageURL != "" {
		fmt.Fprintf(&b, "\n\n[Full minutes](%s)", m.WikiPageURL)
	}
	return title, b.String()
}

// attendeeNames resolves the distinct raw speaker labels through the
// mapping set, keeping unmapped labels as-is.
func attendeeNames(m *meeting.Meeting, mappings []meeting.SpeakerMapping) []string {
	names := make(map[string]string, len(mappings))
	for _, mp := range mappings {
		if mp.SpeakerName != "" {
			names[mp.SpeakerLabel] = mp.SpeakerName
		}
	}
	var out []string
	for _, label := range m.SpeakerLabels() {
		if name, ok := names[label]; ok {
			out = append(out, name)
		} else {
			out = append(out, label)
		}
	}
	return out
}

func transcriptFallback(m *meeting.Meeting) string {
	if m.CorrectedTranscript != "" {
		return m.CorrectedTranscript
	}
	return m.Transcript
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(no summary)"
	}
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
