package transcribe

import (
	"context"
	"sync"

	"github.com/openminutes/openminutes/internal/audio"
	"github.com/openminutes/openminutes/internal/meeting"
)

// Fake is a deterministic Transcriber for tests. Results are keyed by chunk
// index; Err (or ErrByIndex) forces failures. Calls are recorded.
type Fake struct {
	mu         sync.Mutex
	Results    map[int][]meeting.Segment
	Err        error
	ErrByIndex map[int]error
	Calls      []int
}

// Transcribe implements Transcriber.
func (f *Fake) Transcribe(_ context.Context, chunk audio.Chunk) ([]meeting.Segment, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, chunk.Index)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	if err, ok := f.ErrByIndex[chunk.Index]; ok {
		return nil, err
	}
	return f.Results[chunk.Index], nil
}
