package publish

import (
	"context"

	"github.com/openminutes/openminutes/internal/meeting"
)

// FakeWiki records publish calls for tests.
type FakeWiki struct {
	Result Result
	Err    error
	Calls  []*meeting.Meeting
}

// Publish implements WikiPublisher.
func (f *FakeWiki) Publish(_ context.Context, m *meeting.Meeting, _ []meeting.SpeakerMapping) (Result, error) {
	f.Calls = append(f.Calls, m)
	if f.Err != nil {
		return Result{}, f.Err
	}
	return f.Result, nil
}

// FakeChat records publish calls for tests.
type FakeChat struct {
	Result  Result
	Channel string
	Err     error
	Calls   []*meeting.Meeting
}

// Publish implements ChatPublisher.
func (f *FakeChat) Publish(_ context.Context, m *meeting.Meeting, _ []meeting.SpeakerMapping) (Result, error) {
	f.Calls = append(f.Calls, m)
	if f.Err != nil {
		return Result{}, f.Err
	}
	return f.Result, nil
}
