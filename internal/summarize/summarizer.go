// Package summarize produces the structured meeting summary document.
package summarize

import (
	"context"
)

// Summarizer is the capability interface over the summary provider. The
// returned document is markdown with attendee list, discussion topics,
// decisions and action items; the rest of the system treats it as opaque
// formatted text.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Fake is a deterministic Summarizer for tests.
type Fake struct {
	Result string
	Err    error
	Calls  int
	Inputs []string
}

// Summarize implements Summarizer.
func (f *Fake) Summarize(_ context.Context, transcript string) (string, error) {
	f.Calls++
	f.Inputs = append(f.Inputs, transcript)
	if f.Err != nil {
		return "", f.Err
	}
	if f.Result != "" {
		return f.Result, nil
	}
	return "## Meeting Summary\n\n(no content)", nil
}
