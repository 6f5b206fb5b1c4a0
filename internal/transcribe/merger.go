package transcribe

import (
	"fmt"
	"strings"

	"github.com/openminutes/openminutes/internal/audio"
	"github.com/openminutes/openminutes/internal/meeting"
)

// Merge stitches per-chunk transcription results into one globally ordered
// segment sequence: each segment of chunk i is shifted by that chunk's
// start offset, then the whole set is stably sorted by global start time
// (ties keep chunk order, then within-chunk order).
//
// Speaker labels are preserved exactly as each chunk's provider call
// produced them. The provider may label the same voice "Speaker 0" in one
// chunk and "Speaker 1" in the next; no cross-chunk identity inference is
// attempted here; label fragmentation is resolved downstream by manual
// speaker mapping.
//
// The returned text is the space-joined segment texts in merged order.
func Merge(chunks []audio.Chunk, results [][]meeting.Segment) ([]meeting.Segment, string, error) {
	if len(chunks) != len(results) {
		return nil, "", fmt.Errorf("merge: %d chunks but %d result sets", len(chunks), len(results))
	}

	var merged []meeting.Segment
	for i, chunk := range chunks {
		for _, s := range results[i] {
			merged = append(merged, meeting.Segment{
				Speaker: s.Speaker,
				Text:    s.Text,
				Start:   s.Start + chunk.Offset,
				End:     s.End + chunk.Offset,
			})
		}
	}

	meeting.SortSegments(merged)

	texts := make([]string, 0, len(merged))
	for _, s := range merged {
		if t := strings.TrimSpace(s.Text); t != "" {
			texts = append(texts, t)
		}
	}
	return merged, strings.Join(texts, " "), nil
}
