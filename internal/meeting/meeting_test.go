package meeting

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusCompressing, true},
		{StatusCompressing, StatusTranscribing, true},
		{StatusTranscribing, StatusCorrecting, true},
		{StatusCorrecting, StatusSummarizing, true},
		{StatusSummarizing, StatusCompleted, true},
		{StatusPending, StatusTranscribing, false},
		{StatusCompressing, StatusCompleted, false},
		{StatusCompleted, StatusCompressing, false},
		{StatusTranscribing, StatusFailed, true},
		{StatusPending, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusPending.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusTranscribing.Terminal())
	assert.False(t, StatusSummarizing.Terminal())
}

func TestStatusDisplay(t *testing.T) {
	assert.Equal(t, "Transcribing", StatusTranscribing.Display())
	assert.Equal(t, "Completed", StatusCompleted.Display())
	// Unknown values fall back to the raw string.
	assert.Equal(t, "weird", Status("weird").Display())
}

func TestSpeakerLabelsFirstAppearanceOrder(t *testing.T) {
	m := &Meeting{Segments: []Segment{
		{Speaker: "SPEAKER_01", Text: "a"},
		{Speaker: "SPEAKER_00", Text: "b"},
		{Speaker: "SPEAKER_01", Text: "c"},
		{Speaker: "", Text: "narration"},
	}}
	assert.Equal(t, []string{"SPEAKER_01", "SPEAKER_00"}, m.SpeakerLabels())
}

func TestChatViewAppliesMappings(t *testing.T) {
	m := &Meeting{
		Segments: []Segment{{Speaker: "SPEAKER_00", Text: "raw", Start: 0, End: 1}},
		CorrectedSegments: []Segment{
			{Speaker: "SPEAKER_00", Text: "hello there", Start: 0, End: 1},
			{Speaker: "SPEAKER_01", Text: "hi", Start: 1, End: 2},
		},
	}
	mappings := []SpeakerMapping{
		{SpeakerLabel: "SPEAKER_00", SpeakerName: "Alice"},
		{SpeakerLabel: "SPEAKER_01", SpeakerName: ""},
	}

	lines := m.ChatView(mappings)
	assert.Len(t, lines, 2)
	assert.Equal(t, "Alice", lines[0].Speaker)
	assert.Equal(t, "hello there", lines[0].Text)
	// An empty mapping name leaves the raw label visible.
	assert.Equal(t, "SPEAKER_01", lines[1].Speaker)
}

func TestChatViewFallsBackToRawSegments(t *testing.T) {
	m := &Meeting{Segments: []Segment{{Speaker: "SPEAKER_00", Text: "raw", Start: 0, End: 1}}}

	lines := m.ChatView(nil)
	assert.Len(t, lines, 1)
	assert.Equal(t, "raw", lines[0].Text)
}

func TestSortSegmentsStable(t *testing.T) {
	segs := []Segment{
		{Speaker: "B", Start: 5},
		{Speaker: "A", Start: 0},
		{Speaker: "C", Start: 5},
	}
	SortSegments(segs)
	assert.Equal(t, "A", segs[0].Speaker)
	assert.Equal(t, "B", segs[1].Speaker)
	assert.Equal(t, "C", segs[2].Speaker)
}

func TestErrorTaxonomy(t *testing.T) {
	base := errors.New("rate limited")
	assert.True(t, IsTransient(Transient(base)))
	assert.ErrorIs(t, Transient(base), base)
	assert.False(t, IsTransient(base))
	assert.Nil(t, Transient(nil))

	perm := PermanentInput("chunk %d undecodable", 3)
	var pe *PermanentInputError
	assert.ErrorAs(t, perm, &pe)
	assert.Equal(t, "chunk 3 undecodable", perm.Error())
	assert.False(t, IsTransient(perm))
}
