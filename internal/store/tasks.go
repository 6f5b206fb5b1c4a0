package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Task kinds understood by the pipeline workers. Stage tasks carry no
// payload beyond the meeting id: handlers re-read the persisted record and
// derive everything from it, so a redelivered task is harmless.
const (
	TaskCompress    = "compress"
	TaskTranscribe  = "transcribe"
	TaskCorrect     = "correct"
	TaskSummarize   = "summarize"
	TaskPublishWiki = "publish_wiki"
	TaskPublishChat = "publish_chat"
	TaskSweep       = "retention_sweep"
)

// Task is one queued unit of work. Delivery is at-least-once: a claimed
// task whose worker dies becomes claimable again after the visibility
// timeout, so handlers must tolerate duplicate execution.
type Task struct {
	ID         int64
	MeetingID  string
	Kind       string
	EnqueuedAt time.Time
}

// Enqueue inserts a task row.
func (s *Store) Enqueue(ctx context.Context, meetingID, kind string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO tasks (meeting_id, kind, enqueued_at) VALUES (?, ?, ?)`,
		meetingID, kind, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return nil
}

// ClaimTask atomically claims the oldest unclaimed task (or a task whose
// claim is older than visibility, presumed abandoned). Returns nil when the
// queue is empty.
func (s *Store) ClaimTask(ctx context.Context, visibility time.Duration) (*Task, error) {
	now := time.Now().UTC()
	stale := now.Add(-visibility)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	var t Task
	err = tx.QueryRowContext(ctx, `
	SELECT id, meeting_id, kind, enqueued_at FROM tasks
	WHERE claimed_at IS NULL OR claimed_at < ?
	ORDER BY id LIMIT 1`, stale).
		Scan(&t.ID, &t.MeetingID, &t.Kind, &t.EnqueuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select task: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
	UPDATE tasks SET claimed_at = ?
	WHERE id = ? AND (claimed_at IS NULL OR claimed_at < ?)`, now, t.ID, stale)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another worker got there first.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return &t, nil
}

// CompleteTask removes a finished task. Failure outcomes are recorded on
// the meeting record, not the task, so completion is unconditional.
func (s *Store) CompleteTask(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// PendingTasks reports how many tasks are queued or in flight.
func (s *Store) PendingTasks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}
