// Package audio shells out to ffmpeg/ffprobe for compression, duration
// probing and size-bounded chunking of uploaded recordings.
package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// compressSkipBytes: files at or under this size are sent as-is.
const compressSkipBytes = 10 * 1024 * 1024

// ValidFormat checks the upload extension against the formats ffmpeg is
// expected to decode here.
func ValidFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, f := range []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm", ".aac", ".wma"} {
		if ext == f {
			return true
		}
	}
	return false
}

// Compress downmixes the recording to 16 kHz mono 64 kbps mp3 to shrink it
// before transcription. Small files are passed through untouched, and a
// failed compression falls back to the original file: compression is an
// optimization, not a gate. Undecodable input surfaces later, at chunking.
func Compress(ctx context.Context, log *logrus.Entry, inputPath, tempDir string) (string, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return "", fmt.Errorf("stat audio: %w", err)
	}
	if info.Size() <= compressSkipBytes {
		return inputPath, nil
	}

	outputPath := filepath.Join(tempDir, fmt.Sprintf("compressed_%s.mp3", uuid.New().String()))
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-b:a", "64k",
		"-y",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		log.WithError(err).WithField("output", truncate(string(out), 500)).
			Warn("ffmpeg compression failed, using original file")
		os.Remove(outputPath)
		return inputPath, nil
	}
	return outputPath, nil
}

// Duration probes the recording length in seconds. WebM and some other
// containers only report duration on the stream, so both format and stream
// entries are consulted.
func Duration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-show_entries", "format=duration:stream=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", filepath.Base(path), err)
	}
	return parseProbeDuration(out)
}

// parseProbeDuration extracts a duration from ffprobe JSON output,
// preferring format.duration over per-stream durations.
func parseProbeDuration(raw []byte) (float64, error) {
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			Duration string `json:"duration"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}

	if d, ok := parseSeconds(probe.Format.Duration); ok {
		return d, nil
	}
	for _, s := range probe.Streams {
		if d, ok := parseSeconds(s.Duration); ok {
			return d, nil
		}
	}
	return 0, fmt.Errorf("no duration in ffprobe output")
}

func parseSeconds(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, false
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
