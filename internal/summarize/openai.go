package summarize

import (
	"context"
	"errors"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/sirupsen/logrus"

	"github.com/openminutes/openminutes/internal/meeting"
	"github.com/openminutes/openminutes/internal/transcribe"
)

const summarySystemPrompt = "You are a meeting minutes specialist. " +
	"You write structured summaries in markdown."

const summaryPrompt = `Analyze the following meeting transcript and summarize it in exactly this format:

## Meeting Summary

### Attendees
- (derived from the speaker labels present)

### Discussion Topics
1. [topic]: summary
...

### Decisions
- [decision]
...

### Action Items
- [ ] [task] - owner: [speaker]
...

---
Transcript:
`

// OpenAISummarizer implements Summarizer with a chat completion call.
type OpenAISummarizer struct {
	client        oai.Client
	model         string
	maxInputChars int
	maxRetries    int
	log           *logrus.Entry
}

// NewOpenAISummarizer builds a summarizer with the given provider input
// ceiling.
func NewOpenAISummarizer(apiKey, model string, timeout time.Duration, maxRetries, maxInputChars int, log *logrus.Entry) *OpenAISummarizer {
	client := oai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return &OpenAISummarizer{
		client:        client,
		model:         model,
		maxInputChars: maxInputChars,
		maxRetries:    maxRetries,
		log:           log,
	}
}

// Summarize implements Summarizer. Transient provider failures are retried
// with backoff; an over-ceiling transcript is a permanent error.
func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript string) (string, error) {
	if s.maxInputChars > 0 && len(transcript) > s.maxInputChars {
		return "", meeting.PermanentInput(
			"transcript is %d characters, over the %d character summary limit",
			len(transcript), s.maxInputChars)
	}

	var summary string
	err := transcribe.Retry(ctx, s.log, s.maxRetries, func() error {
		resp, err := s.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
			Model: shared.ChatModel(s.model),
			Messages: []oai.ChatCompletionMessageParamUnion{
				oai.SystemMessage(summarySystemPrompt),
				oai.UserMessage(summaryPrompt + transcript),
			},
			Temperature: param.NewOpt(0.5),
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return meeting.Transient(errors.New("empty completion response"))
		}
		summary = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return summary, nil
}

func classify(err error) error {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500 {
			return meeting.Transient(err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return meeting.Transient(err)
}
