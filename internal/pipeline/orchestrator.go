// Package pipeline drives meeting records through the processing stages
// (compress → transcribe → correct → summarize) over a durable task queue,
// and hosts the side-effect handlers (publishing, retention sweep).
//
// The persisted status field is the single source of truth. Every handler
// re-reads the record and no-ops unless the status matches the stage it
// serves, so at-least-once task delivery and process restarts are safe.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openminutes/openminutes/internal/audio"
	"github.com/openminutes/openminutes/internal/meeting"
	"github.com/openminutes/openminutes/internal/publish"
	"github.com/openminutes/openminutes/internal/refine"
	"github.com/openminutes/openminutes/internal/store"
	"github.com/openminutes/openminutes/internal/summarize"
	"github.com/openminutes/openminutes/internal/transcribe"
)

// Splitter chunks a recording into provider-sized pieces. Satisfied by
// audio.Chunker.
type Splitter interface {
	Split(ctx context.Context, path string) ([]audio.Chunk, func(), error)
}

// Orchestrator owns the stage handlers and the manual re-entry operations.
type Orchestrator struct {
	store       *store.Store
	chunker     Splitter
	transcriber transcribe.Transcriber
	refiner     refine.Refiner
	summarizer  summarize.Summarizer

	// Publishing connectors are optional; nil disables the surface.
	wiki        publish.WikiPublisher
	chat        publish.ChatPublisher
	chatChannel string

	tempDir string
	fanOut  int
	log     *logrus.Entry

	// wake pokes the worker pool after an enqueue. Set by the pool.
	wake func()
}

// New builds an orchestrator.
func New(
	st *store.Store,
	chunker Splitter,
	transcriber transcribe.Transcriber,
	refiner refine.Refiner,
	summarizer summarize.Summarizer,
	tempDir string,
	fanOut int,
	log *logrus.Entry,
) *Orchestrator {
	return &Orchestrator{
		store:       st,
		chunker:     chunker,
		transcriber: transcriber,
		refiner:     refiner,
		summarizer:  summarizer,
		tempDir:     tempDir,
		fanOut:      fanOut,
		log:         log,
		wake:        func() {},
	}
}

// WithPublishers attaches the optional publishing connectors.
func (o *Orchestrator) WithPublishers(wiki publish.WikiPublisher, chat publish.ChatPublisher, chatChannel string) *Orchestrator {
	o.wiki = wiki
	o.chat = chat
	o.chatChannel = chatChannel
	return o
}

// StartProcessing begins the pipeline for a freshly uploaded record:
// pending → compressing, then the compress task is queued. Upload triggers
// processing; there is no manual start step. A record without audio stays
// pending and is never advanced.
func (o *Orchestrator) StartProcessing(ctx context.Context, id string) error {
	ok, err := o.store.AdvanceStatus(ctx, id, meeting.StatusPending, meeting.StatusCompressing, store.TaskCompress)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("meeting %s is not pending", id)
	}
	o.wake()
	return nil
}

// RetriggerTranscription re-enters the pipeline at compressing for a
// meeting whose previous run ended. The corrected transcript and summary
// are derived from the transcript about to be replaced, so they are
// cleared as part of the same transition. A meeting still being processed
// is rejected with a ConflictError, never queued behind the active run.
func (o *Orchestrator) RetriggerTranscription(ctx context.Context, id string) error {
	m, err := o.store.GetMeeting(ctx, id)
	if err != nil {
		return err
	}
	if !m.HasAudio() {
		return fmt.Errorf("%w: meeting has no audio file", meeting.ErrNotFound)
	}
	if !m.Status.Terminal() {
		return &meeting.ConflictError{Status: m.Status}
	}

	ok, err := o.store.ResetForTranscription(ctx, id, store.TaskCompress)
	if err != nil {
		return err
	}
	if !ok {
		// Lost a race with another trigger or the pipeline itself.
		if m, err = o.store.GetMeeting(ctx, id); err != nil {
			return err
		}
		return &meeting.ConflictError{Status: m.Status}
	}
	o.wake()
	return nil
}

// RetriggerSummary re-runs only the summarizing stage onward; it never
// re-transcribes.
func (o *Orchestrator) RetriggerSummary(ctx context.Context, id string) error {
	m, err := o.store.GetMeeting(ctx, id)
	if err != nil {
		return err
	}
	if m.Transcript == "" && m.CorrectedTranscript == "" {
		return fmt.Errorf("%w: meeting has no transcript to summarize", meeting.ErrNotFound)
	}
	if !m.Status.Terminal() || m.Status == meeting.StatusPending {
		return &meeting.ConflictError{Status: m.Status}
	}

	ok, err := o.store.ResetForSummary(ctx, id, store.TaskSummarize)
	if err != nil {
		return err
	}
	if !ok {
		if m, err = o.store.GetMeeting(ctx, id); err != nil {
			return err
		}
		return &meeting.ConflictError{Status: m.Status}
	}
	o.wake()
	return nil
}

// RequestPublish queues a publish task for a completed meeting. Publishing
// is independent of the pipeline: its failure is logged on the task and
// never changes the meeting's status.
func (o *Orchestrator) RequestPublish(ctx context.Context, id, kind string) error {
	m, err := o.store.GetMeeting(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != meeting.StatusCompleted {
		return &meeting.ConflictError{Status: m.Status}
	}
	switch kind {
	case store.TaskPublishWiki:
		if o.wiki == nil {
			return errors.New("wiki publishing is not configured")
		}
	case store.TaskPublishChat:
		if o.chat == nil {
			return errors.New("chat publishing is not configured")
		}
	default:
		return fmt.Errorf("unknown publish kind %q", kind)
	}
	return o.enqueue(ctx, id, kind)
}

func (o *Orchestrator) enqueue(ctx context.Context, id, kind string) error {
	if err := o.store.Enqueue(ctx, id, kind); err != nil {
		return err
	}
	o.wake()
	return nil
}

// Handle dispatches one claimed task. Stage failures are recorded on the
// meeting record in here; a returned error means infrastructure trouble
// (storage), not a stage outcome.
func (o *Orchestrator) Handle(ctx context.Context, task *store.Task) error {
	log := o.log.WithFields(logrus.Fields{"meeting_id": task.MeetingID, "task": task.Kind})

	switch task.Kind {
	case store.TaskCompress:
		return o.handleCompress(ctx, log, task.MeetingID)
	case store.TaskTranscribe:
		return o.handleTranscribe(ctx, log, task.MeetingID)
	case store.TaskCorrect:
		return o.handleCorrect(ctx, log, task.MeetingID)
	case store.TaskSummarize:
		return o.handleSummarize(ctx, log, task.MeetingID)
	case store.TaskPublishWiki:
		return o.handlePublish(ctx, log, task.MeetingID, store.TaskPublishWiki)
	case store.TaskPublishChat:
		return o.handlePublish(ctx, log, task.MeetingID, store.TaskPublishChat)
	case store.TaskSweep:
		return o.handleSweep(ctx, log)
	default:
		log.Warn("unknown task kind, dropping")
		return nil
	}
}

// loadForStage fetches the record and checks it is in the stage's state.
// A deleted record or one already past the expected state makes the task a
// silent no-op (duplicate delivery, or deletion racing in-flight work).
func (o *Orchestrator) loadForStage(ctx context.Context, log *logrus.Entry, id string, want meeting.Status) (*meeting.Meeting, bool, error) {
	m, err := o.store.GetMeeting(ctx, id)
	if errors.Is(err, meeting.ErrNotFound) {
		log.Info("meeting gone, discarding task")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if m.Status != want {
		log.WithField("status", m.Status).Debug("meeting not in expected stage, skipping")
		return nil, false, nil
	}
	return m, true, nil
}

func (o *Orchestrator) handleCompress(ctx context.Context, log *logrus.Entry, id string) error {
	m, ok, err := o.loadForStage(ctx, log, id, meeting.StatusCompressing)
	if err != nil || !ok {
		return err
	}
	if !m.HasAudio() {
		return o.failStage(ctx, log, id, "compression", errors.New("meeting has no audio file"))
	}

	// Compression shrinks the upload before chunking; failures fall back
	// to the original file inside Compress, so this stage cannot fail on
	// bad audio. That surfaces at chunking.
	compressed, err := audio.Compress(ctx, log, m.AudioPath, o.tempDir)
	if err != nil {
		return o.failStage(ctx, log, id, "compression", err)
	}
	if compressed != m.AudioPath {
		// Keep a deterministic name so the transcribe stage finds it even
		// after a redelivery.
		stable := o.compressedPath(id)
		if err := os.Rename(compressed, stable); err != nil {
			log.WithError(err).Warn("could not place compressed file, using original audio")
			os.Remove(compressed)
		}
	}

	advanced, err := o.store.AdvanceStatus(ctx, id,
		meeting.StatusCompressing, meeting.StatusTranscribing, store.TaskTranscribe)
	if err != nil {
		return err
	}
	if advanced {
		o.wake()
	}
	return nil
}

func (o *Orchestrator) handleTranscribe(ctx context.Context, log *logrus.Entry, id string) error {
	m, ok, err := o.loadForStage(ctx, log, id, meeting.StatusTranscribing)
	if err != nil || !ok {
		return err
	}
	if !m.HasAudio() {
		return o.failStage(ctx, log, id, "transcription", errors.New("meeting has no audio file"))
	}

	src := m.AudioPath
	if stable := o.compressedPath(id); fileExists(stable) {
		src = stable
	}

	chunks, cleanup, err := o.chunker.Split(ctx, src)
	if err != nil {
		return o.failStage(ctx, log, id, "transcription", err)
	}
	defer cleanup()

	log.WithField("chunks", len(chunks)).Info("transcribing audio")
	results, err := transcribe.TranscribeAll(ctx, o.transcriber, chunks, o.fanOut)
	if err != nil {
		return o.failStage(ctx, log, id, "transcription", err)
	}

	segments, text, err := transcribe.Merge(chunks, results)
	if err != nil {
		return o.failStage(ctx, log, id, "transcription", err)
	}

	saved, err := o.store.SaveTranscription(ctx, id, text, segments, store.TaskCorrect)
	if err != nil {
		return err
	}
	if !saved {
		return nil
	}
	o.wake()

	// Reveal new speaker labels to the mapping table; existing names stay.
	m.Segments = segments
	if err := o.store.SeedSpeakerMappings(ctx, id, m.SpeakerLabels()); err != nil {
		log.WithError(err).Warn("seeding speaker mappings failed")
	}

	os.Remove(o.compressedPath(id))
	return nil
}

func (o *Orchestrator) handleCorrect(ctx context.Context, log *logrus.Entry, id string) error {
	m, ok, err := o.loadForStage(ctx, log, id, meeting.StatusCorrecting)
	if err != nil || !ok {
		return err
	}

	corrected, err := o.refiner.Refine(ctx, m.Segments)
	if err != nil {
		return o.failStage(ctx, log, id, "correction", err)
	}

	saved, err := o.store.SaveCorrection(ctx, id, refine.JoinText(corrected), corrected, store.TaskSummarize)
	if err != nil {
		return err
	}
	if saved {
		o.wake()
	}
	return nil
}

func (o *Orchestrator) handleSummarize(ctx context.Context, log *logrus.Entry, id string) error {
	m, ok, err := o.loadForStage(ctx, log, id, meeting.StatusSummarizing)
	if err != nil || !ok {
		return err
	}

	text := m.CorrectedTranscript
	if text == "" {
		text = m.Transcript
	}

	summary, err := o.summarizer.Summarize(ctx, text)
	if err != nil {
		return o.failStage(ctx, log, id, "summarization", err)
	}

	if _, err := o.store.SaveSummary(ctx, id, summary); err != nil {
		return err
	}
	log.Info("meeting processing completed")
	return nil
}

func (o *Orchestrator) handlePublish(ctx context.Context, log *logrus.Entry, id, kind string) error {
	m, err := o.store.GetMeeting(ctx, id)
	if errors.Is(err, meeting.ErrNotFound) {
		log.Info("meeting gone, discarding publish task")
		return nil
	}
	if err != nil {
		return err
	}
	if m.Status != meeting.StatusCompleted {
		log.WithField("status", m.Status).Info("meeting no longer completed, skipping publish")
		return nil
	}

	mappings, err := o.store.ListSpeakerMappings(ctx, id)
	if err != nil {
		return err
	}

	switch kind {
	case store.TaskPublishWiki:
		res, err := o.wiki.Publish(ctx, m, mappings)
		if err != nil {
			// Publishing failures never touch pipeline status.
			log.WithError(err).Error("wiki publish failed")
			return nil
		}
		if err := o.store.SaveWikiRef(ctx, id, res.ID, res.URL); err != nil && !errors.Is(err, meeting.ErrNotFound) {
			return err
		}
		log.WithField("page_url", res.URL).Info("published to wiki")

	case store.TaskPublishChat:
		res, err := o.chat.Publish(ctx, m, mappings)
		if err != nil {
			log.WithError(err).Error("chat publish failed")
			return nil
		}
		if err := o.store.SaveChatRef(ctx, id, res.ID, o.chatChannel); err != nil && !errors.Is(err, meeting.ErrNotFound) {
			return err
		}
		log.Info("published to chat")
	}
	return nil
}

// handleSweep deletes audio payloads past the retention horizon and clears
// their references. Derived text is never touched. One record's storage
// error does not stop the sweep, and re-running over already-cleared
// records is a no-op.
func (o *Orchestrator) handleSweep(ctx context.Context, log *logrus.Entry) error {
	expired, err := o.store.ListExpiredAudio(ctx, time.Now())
	if err != nil {
		return err
	}

	cleared := 0
	for _, m := range expired {
		if err := os.Remove(m.AudioPath); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("meeting_id", m.ID).Error("could not delete expired audio")
			continue
		}
		if err := o.store.ClearAudio(ctx, m.ID); err != nil {
			log.WithError(err).WithField("meeting_id", m.ID).Error("could not clear audio reference")
			continue
		}
		cleared++
	}
	if cleared > 0 || len(expired) > 0 {
		log.WithFields(logrus.Fields{"expired": len(expired), "cleared": cleared}).
			Info("retention sweep finished")
	}
	return nil
}

// failStage is the single place a pipeline run turns failed. The message
// is stored verbatim for the status endpoint.
func (o *Orchestrator) failStage(ctx context.Context, log *logrus.Entry, id, stage string, cause error) error {
	msg := fmt.Sprintf("%s failed: %v", stage, cause)
	log.WithError(cause).Error("stage failed")

	marked, err := o.store.MarkFailed(ctx, id, msg)
	if err != nil {
		return err
	}
	if !marked {
		log.Debug("record already terminal, failure not recorded")
	}
	return nil
}

func (o *Orchestrator) compressedPath(id string) string {
	return filepath.Join(o.tempDir, fmt.Sprintf("compressed_%s.mp3", id))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
