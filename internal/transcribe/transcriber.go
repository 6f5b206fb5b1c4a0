// Package transcribe turns audio chunks into speaker-labeled timed
// segments and merges per-chunk results back into one global transcript.
package transcribe

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/openminutes/openminutes/internal/audio"
	"github.com/openminutes/openminutes/internal/meeting"
)

// Transcriber is the capability interface over a speech-to-text provider.
// Segment offsets are chunk-local; the merger re-bases them. Implementations
// must be idempotent for identical input bytes and safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk audio.Chunk) ([]meeting.Segment, error)
}

// TranscribeAll runs the transcriber over every chunk with bounded
// concurrency. Results keep chunk order regardless of completion order.
// A persistent failure on any chunk fails the whole set: partial results
// are discarded and re-derived on retry.
func TranscribeAll(ctx context.Context, t Transcriber, chunks []audio.Chunk, limit int) ([][]meeting.Segment, error) {
	if limit <= 0 {
		limit = 1
	}

	results := make([][]meeting.Segment, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, chunk := range chunks {
		g.Go(func() error {
			segments, err := t.Transcribe(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = segments
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
