// Package retention schedules the periodic audio-retention sweep and
// clears stale scratch files left behind by interrupted runs.
package retention

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openminutes/openminutes/internal/store"
)

// staleTempAge is how long a chunk or compressed file may sit in the
// scratch directory before it is considered orphaned.
const staleTempAge = 24 * time.Hour

// Sweeper periodically enqueues the retention sweep task. The deletion
// itself runs inside the worker pool so a crash mid-sweep is redelivered
// like any other task.
type Sweeper struct {
	store   *store.Store
	tempDir string
	period  time.Duration
	wake    func()
	log     *logrus.Entry

	stopChan chan struct{}
}

// NewSweeper builds a sweeper. wake nudges the worker pool after an
// enqueue and may be nil.
func NewSweeper(st *store.Store, tempDir string, period time.Duration, wake func(), log *logrus.Entry) *Sweeper {
	if wake == nil {
		wake = func() {}
	}
	return &Sweeper{
		store:    st,
		tempDir:  tempDir,
		period:   period,
		wake:     wake,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start runs one sweep immediately, then on every tick.
func (s *Sweeper) Start(ctx context.Context) {
	s.trigger(ctx)

	ticker := time.NewTicker(s.period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.trigger(ctx)
			case <-s.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	s.log.WithField("period", s.period).Info("retention sweeper started")
}

// Stop halts the ticker. An already enqueued sweep still runs.
func (s *Sweeper) Stop() {
	close(s.stopChan)
	s.log.Info("retention sweeper stopped")
}

func (s *Sweeper) trigger(ctx context.Context) {
	if err := s.store.Enqueue(ctx, "", store.TaskSweep); err != nil {
		s.log.WithError(err).Error("enqueueing retention sweep failed")
		return
	}
	s.wake()
	s.cleanScratch()
}

// cleanScratch removes chunk and compressed leftovers abandoned by runs
// that never reached their cleanup.
func (s *Sweeper) cleanScratch() {
	now := time.Now()
	var deleted int

	filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if now.Sub(info.ModTime()) <= staleTempAge {
			return nil
		}
		if err := os.Remove(path); err != nil {
			s.log.WithError(err).WithField("path", path).Warn("could not delete stale temp file")
			return nil
		}
		deleted++
		return nil
	})

	if deleted > 0 {
		s.log.WithField("deleted", deleted).Info("cleared stale temp files")
	}
}
