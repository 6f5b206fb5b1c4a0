package transcribe

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openminutes/openminutes/internal/audio"
	"github.com/openminutes/openminutes/internal/meeting"
)

func TestClampSpan(t *testing.T) {
	tests := []struct {
		name       string
		start, end float64
		wantStart  float64
		wantEnd    float64
	}{
		{"valid_span", 1.5, 3.0, 1.5, 3.0},
		{"zero_length", 2.0, 2.0, 2.0, 2.0},
		{"negative_start", -0.3, 1.0, 0, 1.0},
		{"end_before_start", 5.0, 2.0, 5.0, 5.0},
		{"both_negative", -2.0, -1.0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := clampSpan(tt.start, tt.end)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestTranscribeClampsMalformedProviderSpans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"text": "hello hi",
			"segments": [
				{"speaker": "SPEAKER_00", "text": "hello", "start": -0.4, "end": 2},
				{"speaker": "SPEAKER_01", "text": "hi", "start": 3, "end": 1.5}
			]
		}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "chunk.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake audio"), 0o644))

	tr := NewOpenAITranscriber(srv.URL, "key", "model", "", time.Second, 0, testLog())
	segments, err := tr.Transcribe(shortCtx(t), audio.Chunk{Path: path, Index: 0})
	require.NoError(t, err)
	require.Len(t, segments, 2)

	assert.Equal(t, 0.0, segments[0].Start)
	assert.Equal(t, 2.0, segments[0].End)
	assert.Equal(t, 3.0, segments[1].Start)
	assert.Equal(t, 3.0, segments[1].End)
}

func TestTranscribeRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unsupported file"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "chunk.mp3")
	require.NoError(t, os.WriteFile(path, []byte("fake audio"), 0o644))

	tr := NewOpenAITranscriber(srv.URL, "key", "model", "", time.Second, 3, testLog())
	_, err := tr.Transcribe(shortCtx(t), audio.Chunk{Path: path, Index: 0})
	require.Error(t, err)

	var pe *meeting.PermanentInputError
	assert.ErrorAs(t, err, &pe)
}
