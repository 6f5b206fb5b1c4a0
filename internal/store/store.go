// Package store persists meeting records, speaker mappings and the durable
// task queue in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openminutes/openminutes/internal/meeting"
)

const schema = `
CREATE TABLE IF NOT EXISTS meetings (
	id TEXT PRIMARY KEY,
	team_id TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	meeting_date DATETIME NOT NULL,
	audio_path TEXT NOT NULL DEFAULT '',
	audio_expires_at DATETIME,
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '',
	segments TEXT NOT NULL DEFAULT '[]',
	corrected_transcript TEXT NOT NULL DEFAULT '',
	corrected_segments TEXT NOT NULL DEFAULT '[]',
	summary TEXT NOT NULL DEFAULT '',
	wiki_page_id TEXT NOT NULL DEFAULT '',
	wiki_page_url TEXT NOT NULL DEFAULT '',
	chat_message_id TEXT NOT NULL DEFAULT '',
	chat_channel TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_meetings_team ON meetings(team_id, meeting_date);
CREATE INDEX IF NOT EXISTS idx_meetings_audio_expiry ON meetings(audio_expires_at);

CREATE TABLE IF NOT EXISTS speaker_mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	meeting_id TEXT NOT NULL REFERENCES meetings(id) ON DELETE CASCADE,
	speaker_label TEXT NOT NULL,
	speaker_name TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	UNIQUE(meeting_id, speaker_label)
);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	meeting_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	enqueued_at DATETIME NOT NULL,
	claimed_at DATETIME
);
`

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

const meetingColumns = `id, team_id, created_by, title, meeting_date,
	audio_path, audio_expires_at, status, error_message,
	transcript, segments, corrected_transcript, corrected_segments, summary,
	wiki_page_id, wiki_page_url, chat_message_id, chat_channel,
	created_at, updated_at`

// CreateMeeting inserts a new record. CreatedAt/UpdatedAt are set here.
func (s *Store) CreateMeeting(ctx context.Context, m *meeting.Meeting) error {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = meeting.StatusPending
	}

	segs, err := marshalSegments(m.Segments)
	if err != nil {
		return err
	}
	corrected, err := marshalSegments(m.CorrectedSegments)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO meetings (`+meetingColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TeamID, m.CreatedBy, m.Title, m.MeetingDate,
		m.AudioPath, nullTime(m.AudioExpiresAt), string(m.Status), m.ErrorMessage,
		m.Transcript, segs, m.CorrectedTranscript, corrected, m.Summary,
		m.WikiPageID, m.WikiPageURL, m.ChatMessageID, m.ChatChannel,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

// GetMeeting loads one record by id, returning meeting.ErrNotFound when absent.
func (s *Store) GetMeeting(ctx context.Context, id string) (*meeting.Meeting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	return scanMeeting(row)
}

// ListMeetings returns records, newest meeting first, optionally scoped to a
// team. Segment payloads are included; callers wanting a light listing strip
// them at the presentation layer.
func (s *Store) ListMeetings(ctx context.Context, teamID string, limit int) ([]*meeting.Meeting, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + meetingColumns + ` FROM meetings`
	args := []any{}
	if teamID != "" {
		query += ` WHERE team_id = ?`
		args = append(args, teamID)
	}
	query += ` ORDER BY meeting_date DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var out []*meeting.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMeetingInfo changes the user-editable fields of a record.
func (s *Store) UpdateMeetingInfo(ctx context.Context, id, title string, date time.Time) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE meetings SET title = ?, meeting_date = ?, updated_at = ?
	WHERE id = ?`, title, date, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update meeting: %w", err)
	}
	return requireRow(res)
}

// DeleteMeeting removes a record, its speaker mappings and any queued tasks.
// In-flight stage work for the meeting finds the record gone and discards
// its result.
func (s *Store) DeleteMeeting(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM meetings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete meeting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return meeting.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE meeting_id = ?`, id); err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return tx.Commit()
}

// transition runs a conditional meeting UPDATE and, when it landed and
// nextTask is non-empty, inserts the next-stage task row in the same
// transaction. Stage output, the new status and the follow-up task commit
// together, so a worker dying between them cannot strand a record in a
// status no queued task will ever serve.
func (s *Store) transition(ctx context.Context, op, id, nextTask, query string, args ...any) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	if nextTask != "" {
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (meeting_id, kind, enqueued_at) VALUES (?, ?, ?)`,
			id, nextTask, time.Now().UTC()); err != nil {
			return false, fmt.Errorf("%s: enqueue %s: %w", op, nextTask, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// AdvanceStatus moves a record from one status to the next with a
// conditional update, enqueueing nextTask (when non-empty) atomically with
// the transition. It returns false without error when the record is no
// longer in the expected state, which callers treat as a duplicate-delivery
// no-op, or when the record has been deleted.
func (s *Store) AdvanceStatus(ctx context.Context, id string, from, to meeting.Status, nextTask string) (bool, error) {
	return s.transition(ctx, "advance status", id, nextTask, `
	UPDATE meetings SET status = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from))
}

// SaveTranscription persists the raw transcription output atomically with
// the transition transcribing → correcting and the correction task.
func (s *Store) SaveTranscription(ctx context.Context, id, transcript string, segments []meeting.Segment, nextTask string) (bool, error) {
	segs, err := marshalSegments(segments)
	if err != nil {
		return false, err
	}
	return s.transition(ctx, "save transcription", id, nextTask, `
	UPDATE meetings SET transcript = ?, segments = ?, status = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		transcript, segs, string(meeting.StatusCorrecting), time.Now().UTC(),
		id, string(meeting.StatusTranscribing))
}

// SaveCorrection persists the refined transcript atomically with the
// transition correcting → summarizing and the summary task.
func (s *Store) SaveCorrection(ctx context.Context, id, corrected string, segments []meeting.Segment, nextTask string) (bool, error) {
	segs, err := marshalSegments(segments)
	if err != nil {
		return false, err
	}
	return s.transition(ctx, "save correction", id, nextTask, `
	UPDATE meetings SET corrected_transcript = ?, corrected_segments = ?, status = ?, updated_at = ?
	WHERE id = ? AND status = ?`,
		corrected, segs, string(meeting.StatusSummarizing), time.Now().UTC(),
		id, string(meeting.StatusCorrecting))
}

// SaveSummary persists the summary atomically with the transition
// summarizing → completed and clears any stale error message.
func (s *Store) SaveSummary(ctx context.Context, id, summary string) (bool, error) {
	return s.transition(ctx, "save summary", id, "", `
	UPDATE meetings SET summary = ?, status = ?, error_message = '', updated_at = ?
	WHERE id = ? AND status = ?`,
		summary, string(meeting.StatusCompleted), time.Now().UTC(),
		id, string(meeting.StatusSummarizing))
}

// MarkFailed records a stage failure. Completed and already-failed records
// are left alone.
func (s *Store) MarkFailed(ctx context.Context, id, message string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE meetings SET status = ?, error_message = ?, updated_at = ?
	WHERE id = ? AND status NOT IN (?, ?)`,
		string(meeting.StatusFailed), message, time.Now().UTC(),
		id, string(meeting.StatusCompleted), string(meeting.StatusFailed))
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ResetForTranscription re-enters the pipeline at compressing for a record
// whose previous run has ended. Corrected text and summary are derived from
// the transcript being replaced, so they are cleared here, atomically with
// the transition and the queued compress task. Returns false when the
// record is not in a terminal state.
func (s *Store) ResetForTranscription(ctx context.Context, id, nextTask string) (bool, error) {
	return s.transition(ctx, "reset for transcription", id, nextTask, `
	UPDATE meetings SET status = ?, error_message = '',
		corrected_transcript = '', corrected_segments = '[]', summary = '',
		updated_at = ?
	WHERE id = ? AND status IN (?, ?, ?) AND audio_path != ''`,
		string(meeting.StatusCompressing), time.Now().UTC(), id,
		string(meeting.StatusPending), string(meeting.StatusCompleted), string(meeting.StatusFailed))
}

// ResetForSummary re-enters the pipeline at summarizing. Only records whose
// previous run ended are eligible.
func (s *Store) ResetForSummary(ctx context.Context, id, nextTask string) (bool, error) {
	return s.transition(ctx, "reset for summary", id, nextTask, `
	UPDATE meetings SET status = ?, error_message = '', updated_at = ?
	WHERE id = ? AND status IN (?, ?)
	  AND (corrected_transcript != '' OR transcript != '')`,
		string(meeting.StatusSummarizing), time.Now().UTC(), id,
		string(meeting.StatusCompleted), string(meeting.StatusFailed))
}

// SaveWikiRef stores (overwriting) the wiki cross-reference.
func (s *Store) SaveWikiRef(ctx context.Context, id, pageID, pageURL string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE meetings SET wiki_page_id = ?, wiki_page_url = ?, updated_at = ?
	WHERE id = ?`, pageID, pageURL, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("save wiki ref: %w", err)
	}
	return requireRow(res)
}

// SaveChatRef stores (overwriting) the chat cross-reference.
func (s *Store) SaveChatRef(ctx context.Context, id, messageID, channel string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE meetings SET chat_message_id = ?, chat_channel = ?, updated_at = ?
	WHERE id = ?`, messageID, channel, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("save chat ref: %w", err)
	}
	return requireRow(res)
}

// ListExpiredAudio returns records whose audio payload is past its expiry
// and still referenced.
func (s *Store) ListExpiredAudio(ctx context.Context, now time.Time) ([]*meeting.Meeting, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+meetingColumns+` FROM meetings
	WHERE audio_path != '' AND audio_expires_at IS NOT NULL AND audio_expires_at <= ?`,
		now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expired audio: %w", err)
	}
	defer rows.Close()

	var out []*meeting.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ClearAudio empties the audio reference after the payload was deleted.
// Text and summary fields are untouched. Idempotent.
func (s *Store) ClearAudio(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE meetings SET audio_path = '', audio_expires_at = NULL, updated_at = ?
	WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("clear audio: %w", err)
	}
	return nil
}

// SeedSpeakerMappings lazily creates empty-name mappings for labels the raw
// segments revealed. Existing mappings are left untouched.
func (s *Store) SeedSpeakerMappings(ctx context.Context, meetingID string, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, label := range labels {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO speaker_mappings (meeting_id, speaker_label, speaker_name, created_at)
		VALUES (?, ?, '', ?)
		ON CONFLICT(meeting_id, speaker_label) DO NOTHING`,
			meetingID, label, now)
		if err != nil {
			return fmt.Errorf("seed speaker mapping %q: %w", label, err)
		}
	}
	return nil
}

// UpsertSpeakerMappings applies a batch of label → name assignments.
func (s *Store) UpsertSpeakerMappings(ctx context.Context, meetingID string, mappings map[string]string) error {
	now := time.Now().UTC()
	for label, name := range mappings {
		_, err := s.db.ExecContext(ctx, `
		INSERT INTO speaker_mappings (meeting_id, speaker_label, speaker_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(meeting_id, speaker_label) DO UPDATE SET speaker_name = excluded.speaker_name`,
			meetingID, label, name, now)
		if err != nil {
			return fmt.Errorf("upsert speaker mapping %q: %w", label, err)
		}
	}
	return nil
}

// ListSpeakerMappings returns the mappings of one meeting ordered by label.
func (s *Store) ListSpeakerMappings(ctx context.Context, meetingID string) ([]meeting.SpeakerMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, meeting_id, speaker_label, speaker_name, created_at
	FROM speaker_mappings WHERE meeting_id = ? ORDER BY speaker_label`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list speaker mappings: %w", err)
	}
	defer rows.Close()

	var out []meeting.SpeakerMapping
	for rows.Next() {
		var m meeting.SpeakerMapping
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.SpeakerLabel, &m.SpeakerName, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan speaker mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*meeting.Meeting, error) {
	var (
		m              meeting.Meeting
		status         string
		segs, corrSegs string
		expiresAt      sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.TeamID, &m.CreatedBy, &m.Title, &m.MeetingDate,
		&m.AudioPath, &expiresAt, &status, &m.ErrorMessage,
		&m.Transcript, &segs, &m.CorrectedTranscript, &corrSegs, &m.Summary,
		&m.WikiPageID, &m.WikiPageURL, &m.ChatMessageID, &m.ChatChannel,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, meeting.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan meeting: %w", err)
	}

	m.Status = meeting.Status(status)
	if expiresAt.Valid {
		m.AudioExpiresAt = expiresAt.Time
	}
	if m.Segments, err = unmarshalSegments(segs); err != nil {
		return nil, err
	}
	if m.CorrectedSegments, err = unmarshalSegments(corrSegs); err != nil {
		return nil, err
	}
	return &m, nil
}

func marshalSegments(segments []meeting.Segment) (string, error) {
	if segments == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(segments)
	if err != nil {
		return "", fmt.Errorf("marshal segments: %w", err)
	}
	return string(raw), nil
}

func unmarshalSegments(raw string) ([]meeting.Segment, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var segments []meeting.Segment
	if err := json.Unmarshal([]byte(raw), &segments); err != nil {
		return nil, fmt.Errorf("unmarshal segments: %w", err)
	}
	return segments, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func requireRow(res sql.Result) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return meeting.ErrNotFound
	}
	return nil
}
