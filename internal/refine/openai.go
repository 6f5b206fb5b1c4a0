package refine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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

const refineSystemPrompt = "You are a transcript correction specialist. " +
	"You receive speaker-labeled meeting segments as JSON and return the " +
	"same JSON structure with only the text fields corrected."

const refinePrompt = `The following JSON array contains speaker-labeled segments of a meeting
transcribed from audio. Correct only each segment's "text" field:

1. Fix spelling, punctuation and obvious speech-to-text mishearings using context.
2. Complete broken sentences naturally without changing their meaning.
3. Never change "speaker", "start" or "end" values.
4. Never reorder segments or move content between speakers.

Return only the corrected JSON array, no explanations.

---
`

// OpenAIRefiner implements Refiner with a chat completion call.
type OpenAIRefiner struct {
	client        oai.Client
	model         string
	maxInputChars int
	maxRetries    int
	log           *logrus.Entry
}

// NewOpenAIRefiner builds a refiner. maxInputChars is the provider input
// ceiling; longer transcripts fail permanently rather than being silently
// truncated.
func NewOpenAIRefiner(apiKey, model string, timeout time.Duration, maxRetries, maxInputChars int, log *logrus.Entry) *OpenAIRefiner {
	client := oai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return &OpenAIRefiner{
		client:        client,
		model:         model,
		maxInputChars: maxInputChars,
		maxRetries:    maxRetries,
		log:           log,
	}
}

// Refine implements Refiner. A provider response that breaks the segment
// contract (unknown speakers, inverted order, unparseable JSON) falls back
// to the raw segments; transport failures are retried and, once exhausted,
// fail the stage.
func (r *OpenAIRefiner) Refine(ctx context.Context, segments []meeting.Segment) ([]meeting.Segment, error) {
	if len(segments) == 0 {
		return nil, nil
	}

	input, err := json.MarshalIndent(segments, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal segments: %w", err)
	}
	if r.maxInputChars > 0 && len(input) > r.maxInputChars {
		return nil, meeting.PermanentInput(
			"transcript is %d characters, over the %d character correction limit",
			len(input), r.maxInputChars)
	}

	var content string
	err = transcribe.Retry(ctx, r.log, r.maxRetries, func() error {
		resp, err := r.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
			Model: shared.ChatModel(r.model),
			Messages: []oai.ChatCompletionMessageParamUnion{
				oai.SystemMessage(refineSystemPrompt),
				oai.UserMessage(refinePrompt + string(input)),
			},
			Temperature: param.NewOpt(0.3),
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return meeting.Transient(errors.New("empty completion response"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return nil, err
	}

	var refined []meeting.Segment
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &refined); err != nil {
		r.log.WithError(err).Warn("refined transcript is not valid JSON, keeping raw segments")
		return segments, nil
	}

	// When cardinality survived, pin speaker and timing to the originals:
	// only text was up for correction.
	if len(refined) == len(segments) {
		for i := range refined {
			refined[i].Speaker = segments[i].Speaker
			refined[i].Start = segments[i].Start
			refined[i].End = segments[i].End
		}
	}

	if err := validate(segments, refined); err != nil {
		r.log.WithError(err).Warn("refined transcript violates segment contract, keeping raw segments")
		return segments, nil
	}
	return refined, nil
}

// classify maps OpenAI SDK errors onto the pipeline taxonomy.
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
	// Transport-level failure without an API status.
	return meeting.Transient(err)
}
