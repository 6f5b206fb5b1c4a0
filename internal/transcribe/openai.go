package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openminutes/openminutes/internal/audio"
	"github.com/openminutes/openminutes/internal/meeting"
)

// OpenAITranscriber calls the OpenAI audio transcription endpoint with the
// diarized response format. The typed SDK surface does not expose diarized
// output, so the request is a plain multipart POST.
type OpenAITranscriber struct {
	baseURL    string
	apiKey     string
	model      string
	language   string
	maxRetries int
	client     *http.Client
	log        *logrus.Entry
}

// NewOpenAITranscriber builds a transcriber. timeout bounds one provider
// call; retries on transient failures happen inside Transcribe.
func NewOpenAITranscriber(baseURL, apiKey, model, language string, timeout time.Duration, maxRetries int, log *logrus.Entry) *OpenAITranscriber {
	return &OpenAITranscriber{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		language:   language,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
		log:        log,
	}
}

// diarizedResponse mirrors the provider's diarized_json payload.
type diarizedResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Speaker string  `json:"speaker"`
		Text    string  `json:"text"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
	} `json:"segments"`
}

// Transcribe implements Transcriber. Timeouts, rate limits and 5xx
// responses are retried with exponential backoff; 4xx responses are
// permanent input errors for this chunk.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, chunk audio.Chunk) ([]meeting.Segment, error) {
	var segments []meeting.Segment

	err := Retry(ctx, t.log, t.maxRetries, func() error {
		var err error
		segments, err = t.transcribeOnce(ctx, chunk)
		return err
	})
	if err != nil {
		return nil, err
	}
	return segments, nil
}

func (t *OpenAITranscriber) transcribeOnce(ctx context.Context, chunk audio.Chunk) ([]meeting.Segment, error) {
	f, err := os.Open(chunk.Path)
	if err != nil {
		return nil, meeting.PermanentInput("open chunk %d: %v", chunk.Index, err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filepath.Base(chunk.Path))
	if err != nil {
		return nil, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	w.WriteField("model", t.model)
	if t.language != "" {
		w.WriteField("language", t.language)
	}
	w.WriteField("response_format", "diarized_json")
	w.WriteField("chunking_strategy", "auto")
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, meeting.Transient(fmt.Errorf("transcription request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, meeting.Transient(fmt.Errorf("read transcription response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parse
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, meeting.Transient(fmt.Errorf("transcription provider %d: %s",
			resp.StatusCode, truncate(raw, 300)))
	default:
		return nil, meeting.PermanentInput("transcription rejected (%d): %s",
			resp.StatusCode, truncate(raw, 300))
	}

	var parsed diarizedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, meeting.Transient(fmt.Errorf("parse transcription response: %w", err))
	}

	segments := make([]meeting.Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		start, end := clampSpan(s.Start, s.End)
		if start != s.Start || end != s.End {
			t.log.WithFields(logrus.Fields{
				"chunk": chunk.Index, "start": s.Start, "end": s.End,
			}).Warn("provider returned invalid segment span, clamping")
		}
		segments = append(segments, meeting.Segment{
			Speaker: s.Speaker,
			Text:    s.Text,
			Start:   start,
			End:     end,
		})
	}
	return segments, nil
}

// clampSpan repairs malformed provider timestamps: negative starts move
// to zero and an end before its start collapses to a zero-length span.
func clampSpan(start, end float64) (float64, float64) {
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}
	return start, end
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n])
}
