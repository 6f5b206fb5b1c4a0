package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/openminutes/openminutes/internal/meeting"
)

// Chunk is one bounded-size contiguous slice of a recording, produced to
// satisfy the transcription provider's upload limit. Offset is the chunk's
// start within the original recording so the merger can re-base timestamps.
// Chunks are transient: callers delete them after the merge.
type Chunk struct {
	Path     string
	Index    int
	Offset   float64
	Duration float64
	Size     int64
}

// Chunker splits recordings at decodable boundaries using ffmpeg's segment
// muxer. Cuts are fixed-duration (no silence detection); exact per-chunk
// offsets come from probing each produced segment.
type Chunker struct {
	// CeilingBytes is the provider's per-request size limit.
	CeilingBytes int64
	// TargetSeconds is the preferred maximum chunk duration.
	TargetSeconds float64
	// TempDir receives the produced segment files.
	TempDir string
}

// Split chunks the recording at path. An input already under the ceiling
// yields exactly one chunk spanning the whole duration. Undecodable input
// is a permanent error, never retried. The returned cleanup removes all
// produced segment files (a single passthrough chunk is left alone).
func (c *Chunker) Split(ctx context.Context, path string) ([]Chunk, func(), error) {
	noop := func() {}

	info, err := os.Stat(path)
	if err != nil {
		return nil, noop, meeting.PermanentInput("audio file unreadable: %v", err)
	}
	size := info.Size()

	duration, err := Duration(ctx, path)
	if err != nil {
		return nil, noop, meeting.PermanentInput("audio file undecodable: %v", err)
	}

	if size <= c.CeilingBytes {
		return []Chunk{{Path: path, Index: 0, Offset: 0, Duration: duration, Size: size}}, noop, nil
	}

	segSeconds := segmentSeconds(duration, size, c.CeilingBytes, c.TargetSeconds)

	dir, err := os.MkdirTemp(c.TempDir, "chunks_")
	if err != nil {
		return nil, noop, fmt.Errorf("create chunk dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	pattern := filepath.Join(dir, "chunk_%03d"+filepath.Ext(path))
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%.0f", segSeconds),
		"-reset_timestamps", "1",
		"-c", "copy",
		"-y",
		pattern,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return nil, noop, meeting.PermanentInput("audio split failed: %v: %s", err, truncate(string(out), 300))
	}

	paths, err := filepath.Glob(filepath.Join(dir, "chunk_*"+filepath.Ext(path)))
	if err != nil || len(paths) == 0 {
		cleanup()
		return nil, noop, meeting.PermanentInput("audio split produced no chunks")
	}
	sort.Strings(paths)

	chunks := make([]Chunk, 0, len(paths))
	offset := 0.0
	for i, p := range paths {
		ci, err := os.Stat(p)
		if err != nil {
			cleanup()
			return nil, noop, fmt.Errorf("stat chunk: %w", err)
		}
		if ci.Size() > c.CeilingBytes {
			cleanup()
			return nil, noop, meeting.PermanentInput(
				"chunk %d is %d bytes, over the %d byte provider limit", i, ci.Size(), c.CeilingBytes)
		}
		d, err := Duration(ctx, p)
		if err != nil {
			cleanup()
			return nil, noop, meeting.PermanentInput("chunk %d undecodable: %v", i, err)
		}
		chunks = append(chunks, Chunk{Path: p, Index: i, Offset: offset, Duration: d, Size: ci.Size()})
		offset += d
	}
	return chunks, cleanup, nil
}

// segmentSeconds picks a cut length that keeps each segment under the size
// ceiling. The stream copy preserves bitrate, so size scales with duration;
// a 10% margin absorbs container overhead and keyframe alignment.
func segmentSeconds(totalSeconds float64, size, ceiling int64, target float64) float64 {
	if totalSeconds <= 0 || size <= 0 {
		return target
	}
	bySize := totalSeconds * float64(ceiling) / float64(size) * 0.9
	if bySize < target {
		target = bySize
	}
	if target < 1 {
		target = 1
	}
	return target
}
