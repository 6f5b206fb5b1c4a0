package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openminutes/openminutes/internal/meeting"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newMeeting(id string) *meeting.Meeting {
	return &meeting.Meeting{
		ID:          id,
		Title:       "Planning",
		MeetingDate: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		AudioPath:   "/var/lib/openminutes/audio/" + id + ".mp3",
	}
}

func TestCreateAndGetMeeting(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := newMeeting("m1")
	m.Segments = []meeting.Segment{{Speaker: "SPEAKER_00", Text: "hi", Start: 0, End: 1.5}}
	require.NoError(t, st.CreateMeeting(ctx, m))

	got, err := st.GetMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Planning", got.Title)
	assert.Equal(t, meeting.StatusPending, got.Status)
	assert.Equal(t, m.AudioPath, got.AudioPath)
	require.Len(t, got.Segments, 1)
	assert.Equal(t, "SPEAKER_00", got.Segments[0].Speaker)
	assert.InDelta(t, 1.5, got.Segments[0].End, 1e-9)
}

func TestGetMeetingNotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetMeeting(context.Background(), "missing")
	assert.ErrorIs(t, err, meeting.ErrNotFound)
}

func TestListMeetingsNewestFirstAndTeamScoped(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	older := newMeeting("m1")
	older.TeamID = "team-a"
	older.MeetingDate = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	newer := newMeeting("m2")
	newer.TeamID = "team-a"
	newer.MeetingDate = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	other := newMeeting("m3")
	other.TeamID = "team-b"
	require.NoError(t, st.CreateMeeting(ctx, older))
	require.NoError(t, st.CreateMeeting(ctx, newer))
	require.NoError(t, st.CreateMeeting(ctx, other))

	got, err := st.ListMeetings(ctx, "team-a", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ID)
	assert.Equal(t, "m1", got[1].ID)
}

func TestAdvanceStatusIsConditional(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateMeeting(ctx, newMeeting("m1")))

	ok, err := st.AdvanceStatus(ctx, "m1", meeting.StatusPending, meeting.StatusCompressing, "")
	require.NoError(t, err)
	assert.True(t, ok)

	// Second attempt with the same precondition loses.
	ok, err = st.AdvanceStatus(ctx, "m1", meeting.StatusPending, meeting.StatusCompressing, "")
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown record is a miss, not an error.
	ok, err = st.AdvanceStatus(ctx, "nope", meeting.StatusPending, meeting.StatusCompressing, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStageSavesAdvanceStatus(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateMeeting(ctx, newMeeting("m1")))

	mustAdvance(t, st, "m1", meeting.StatusPending, meeting.StatusCompressing)
	mustAdvance(t, st, "m1", meeting.StatusCompressing, meeting.StatusTranscribing)

	segs := []meeting.Segment{{Speaker: "SPEAKER_00", Text: "hello", End: 2}}
	ok, err := st.SaveTranscription(ctx, "m1", "hello", segs, "")
	require.NoError(t, err)
	require.True(t, ok)

	// Replay of the same save misses: the record moved on.
	ok, err = st.SaveTranscription(ctx, "m1", "hello again", segs, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.SaveCorrection(ctx, "m1", "hello.", segs, "")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.SaveSummary(ctx, "m1", "## Summary")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := st.GetMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusCompleted, got.Status)
	assert.Equal(t, "hello", got.Transcript)
	assert.Equal(t, "hello.", got.CorrectedTranscript)
	assert.Equal(t, "## Summary", got.Summary)
}

func TestMarkFailedSkipsTerminalOutcomes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateMeeting(ctx, newMeeting("m1")))
	mustAdvance(t, st, "m1", meeting.StatusPending, meeting.StatusCompressing)

	ok, err := st.MarkFailed(ctx, "m1", "compression failed: boom")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusFailed, got.Status)
	assert.Equal(t, "compression failed: boom", got.ErrorMessage)

	// Already failed: the original message wins.
	ok, err = st.MarkFailed(ctx, "m1", "later message")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetForTranscription(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := newMeeting("m1")
	require.NoError(t, st.CreateMeeting(ctx, m))
	mustAdvance(t, st, "m1", meeting.StatusPending, meeting.StatusCompressing)

	// In-flight records are not eligible.
	ok, err := st.ResetForTranscription(ctx, "m1", "")
	require.NoError(t, err)
	assert.False(t, ok)

	mustAdvance(t, st, "m1", meeting.StatusCompressing, meeting.StatusTranscribing)
	_, err = st.SaveTranscription(ctx, "m1", "raw", nil, "")
	require.NoError(t, err)
	_, err = st.SaveCorrection(ctx, "m1", "corrected", nil, "")
	require.NoError(t, err)
	_, err = st.SaveSummary(ctx, "m1", "summary")
	require.NoError(t, err)

	ok, err = st.ResetForTranscription(ctx, "m1", "")
	require.NoError(t, err)
	require.True(t, ok)

	got, err := st.GetMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusCompressing, got.Status)
	assert.Empty(t, got.CorrectedTranscript)
	assert.Empty(t, got.Summary)
	// The raw transcript survives until the new one replaces it.
	assert.Equal(t, "raw", got.Transcript)
}

func TestResetForTranscriptionRequiresAudio(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := newMeeting("m1")
	m.AudioPath = ""
	require.NoError(t, st.CreateMeeting(ctx, m))

	ok, err := st.ResetForTranscription(ctx, "m1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetForSummaryRequiresTranscript(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateMeeting(ctx, newMeeting("m1")))
	mustAdvance(t, st, "m1", meeting.StatusPending, meeting.StatusCompressing)
	okFail, err := st.MarkFailed(ctx, "m1", "compression failed")
	require.NoError(t, err)
	require.True(t, okFail)

	// Failed before any transcript existed.
	ok, err := st.ResetForSummary(ctx, "m1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteMeetingDropsTasksAndMappings(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateMeeting(ctx, newMeeting("m1")))
	require.NoError(t, st.Enqueue(ctx, "m1", TaskCompress))
	require.NoError(t, st.SeedSpeakerMappings(ctx, "m1", []string{"SPEAKER_00"}))

	require.NoError(t, st.DeleteMeeting(ctx, "m1"))

	_, err := st.GetMeeting(ctx, "m1")
	assert.ErrorIs(t, err, meeting.ErrNotFound)

	n, err := st.PendingTasks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, st.DeleteMeeting(ctx, "m1"), meeting.ErrNotFound)
}

func TestExpiredAudioQueries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	expired := newMeeting("m1")
	expired.AudioExpiresAt = now.Add(-time.Hour)
	fresh := newMeeting("m2")
	fresh.AudioExpiresAt = now.Add(time.Hour)
	noAudio := newMeeting("m3")
	noAudio.AudioPath = ""
	noAudio.AudioExpiresAt = now.Add(-time.Hour)
	require.NoError(t, st.CreateMeeting(ctx, expired))
	require.NoError(t, st.CreateMeeting(ctx, fresh))
	require.NoError(t, st.CreateMeeting(ctx, noAudio))

	got, err := st.ListExpiredAudio(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)

	require.NoError(t, st.ClearAudio(ctx, "m1"))
	got, err = st.ListExpiredAudio(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, got)

	m, err := st.GetMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, m.HasAudio())
	assert.True(t, m.AudioExpiresAt.IsZero())
}

func TestSpeakerMappings(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateMeeting(ctx, newMeeting("m1")))

	require.NoError(t, st.SeedSpeakerMappings(ctx, "m1", []string{"SPEAKER_00", "SPEAKER_01"}))
	require.NoError(t, st.UpsertSpeakerMappings(ctx, "m1", map[string]string{"SPEAKER_00": "Alice"}))

	// Re-seeding never clobbers an assigned name.
	require.NoError(t, st.SeedSpeakerMappings(ctx, "m1", []string{"SPEAKER_00", "SPEAKER_02"}))

	got, err := st.ListSpeakerMappings(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Alice", got[0].SpeakerName)
	assert.Equal(t, "SPEAKER_01", got[1].SpeakerLabel)
	assert.Empty(t, got[1].SpeakerName)
	assert.Equal(t, "SPEAKER_02", got[2].SpeakerLabel)
}

func TestTaskClaimLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateMeeting(ctx, newMeeting("m1")))

	require.NoError(t, st.Enqueue(ctx, "m1", TaskCompress))
	require.NoError(t, st.Enqueue(ctx, "m1", TaskTranscribe))

	first, err := st.ClaimTask(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, TaskCompress, first.Kind)

	// The claimed task is invisible; the next claim gets the second one.
	second, err := st.ClaimTask(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, TaskTranscribe, second.Kind)

	third, err := st.ClaimTask(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, third)

	require.NoError(t, st.CompleteTask(ctx, first.ID))
	require.NoError(t, st.CompleteTask(ctx, second.ID))
	n, err := st.PendingTasks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStaleClaimIsRedelivered(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.Enqueue(ctx, "m1", TaskCompress))

	first, err := st.ClaimTask(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	// With a zero visibility window the claim is immediately stale.
	again, err := st.ClaimTask(ctx, -time.Second)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
}

func TestTransitionEnqueuesNextTaskAtomically(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateMeeting(ctx, newMeeting("m1")))
	mustAdvance(t, st, "m1", meeting.StatusPending, meeting.StatusCompressing)
	mustAdvance(t, st, "m1", meeting.StatusCompressing, meeting.StatusTranscribing)

	// The status move and the next-stage task land together: once the
	// record reads correcting, the correct task must exist.
	ok, err := st.SaveTranscription(ctx, "m1", "hello", nil, TaskCorrect)
	require.NoError(t, err)
	require.True(t, ok)

	m, err := st.GetMeeting(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, meeting.StatusCorrecting, m.Status)

	task, err := st.ClaimTask(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, TaskCorrect, task.Kind)
	assert.Equal(t, "m1", task.MeetingID)
}

func TestTransitionMissEnqueuesNothing(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.CreateMeeting(ctx, newMeeting("m1")))

	// Record is pending, not transcribing: the save misses and no correct
	// task may appear (a redelivered transcribe task must stay a no-op).
	ok, err := st.SaveTranscription(ctx, "m1", "hello", nil, TaskCorrect)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := st.PendingTasks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func mustAdvance(t *testing.T, st *Store, id string, from, to meeting.Status) {
	t.Helper()
	ok, err := st.AdvanceStatus(context.Background(), id, from, to, "")
	require.NoError(t, err)
	require.True(t, ok)
}
