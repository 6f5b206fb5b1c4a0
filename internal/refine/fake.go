package refine

import (
	"context"

	"github.com/openminutes/openminutes/internal/meeting"
)

// Fake is a deterministic Refiner for tests. When Result is nil it echoes
// its input.
type Fake struct {
	Result []meeting.Segment
	Err    error
	Calls  int
}

// Refine implements Refiner.
func (f *Fake) Refine(_ context.Context, segments []meeting.Segment) ([]meeting.Segment, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Result != nil {
		return f.Result, nil
	}
	return segments, nil
}
