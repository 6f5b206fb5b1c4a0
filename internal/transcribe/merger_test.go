package transcribe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openminutes/openminutes/internal/audio"
	"github.com/openminutes/openminutes/internal/meeting"
)

func TestMerge_RebasesChunkOffsets(t *testing.T) {
	chunks := []audio.Chunk{
		{Index: 0, Offset: 0, Duration: 10},
		{Index: 1, Offset: 10, Duration: 5},
	}
	results := [][]meeting.Segment{
		{
			{Speaker: "Speaker 0", Text: "hello", Start: 0.0, End: 2.0},
			{Speaker: "Speaker 1", Text: "hi", Start: 2.5, End: 4.0},
		},
		{
			{Speaker: "Speaker 0", Text: "continuing", Start: 0.0, End: 3.0},
		},
	}

	merged, text, err := Merge(chunks, results)
	require.NoError(t, err)
	require.Len(t, merged, 3)

	assert.Equal(t, 0.0, merged[0].Start)
	assert.Equal(t, 2.0, merged[0].End)
	assert.Equal(t, 2.5, merged[1].Start)
	assert.Equal(t, 4.0, merged[1].End)
	assert.Equal(t, 10.0, merged[2].Start)
	assert.Equal(t, 13.0, merged[2].End)
	assert.Equal(t, "hello hi continuing", text)
}

func TestMerge_PreservesPerChunkSpeakerLabels(t *testing.T) {
	// The provider may relabel the same voice across chunks; the merger
	// must not try to reconcile that.
	chunks := []audio.Chunk{
		{Index: 0, Offset: 0},
		{Index: 1, Offset: 20},
	}
	results := [][]meeting.Segment{
		{{Speaker: "Speaker 0", Text: "a", Start: 0, End: 1}},
		{{Speaker: "Speaker 1", Text: "b", Start: 0, End: 1}},
	}

	merged, _, err := Merge(chunks, results)
	require.NoError(t, err)
	assert.Equal(t, "Speaker 0", merged[0].Speaker)
	assert.Equal(t, "Speaker 1", merged[1].Speaker)
}

func TestMerge_StableOrderOnEqualStarts(t *testing.T) {
	chunks := []audio.Chunk{
		{Index: 0, Offset: 0},
		{Index: 1, Offset: 5},
	}
	results := [][]meeting.Segment{
		{
			{Speaker: "Speaker 0", Text: "first", Start: 5.0, End: 6.0},
		},
		{
			// Re-based to 5.0 as well: chunk order must win the tie.
			{Speaker: "Speaker 1", Text: "second", Start: 0.0, End: 1.0},
		},
	}

	merged, _, err := Merge(chunks, results)
	require.NoError(t, err)
	assert.Equal(t, "first", merged[0].Text)
	assert.Equal(t, "second", merged[1].Text)
}

func TestMerge_CountMismatch(t *testing.T) {
	_, _, err := Merge([]audio.Chunk{{Index: 0}}, nil)
	require.Error(t, err)
}

func TestTranscribeAll_KeepsChunkOrder(t *testing.T) {
	fake := &Fake{Results: map[int][]meeting.Segment{
		0: {{Speaker: "Speaker 0", Text: "zero"}},
		1: {{Speaker: "Speaker 0", Text: "one"}},
		2: {{Speaker: "Speaker 0", Text: "two"}},
	}}
	chunks := []audio.Chunk{{Index: 0}, {Index: 1}, {Index: 2}}

	results, err := TranscribeAll(context.Background(), fake, chunks, 2)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "zero", results[0][0].Text)
	assert.Equal(t, "one", results[1][0].Text)
	assert.Equal(t, "two", results[2][0].Text)
}

func TestTranscribeAll_OneFailureFailsAll(t *testing.T) {
	boom := errors.New("provider down")
	fake := &Fake{
		Results:    map[int][]meeting.Segment{0: {{Text: "ok"}}},
		ErrByIndex: map[int]error{1: boom},
	}
	chunks := []audio.Chunk{{Index: 0}, {Index: 1}}

	_, err := TranscribeAll(context.Background(), fake, chunks, 2)
	require.ErrorIs(t, err, boom)
}
