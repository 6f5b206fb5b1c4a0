package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentSeconds(t *testing.T) {
	tests := []struct {
		name    string
		total   float64
		size    int64
		ceiling int64
		target  float64
		want    float64
	}{
		{
			// 1h at ~50MB with 25MB ceiling: size halves the window,
			// 10% margin on top.
			name:  "size_bound_wins",
			total: 3600, size: 50 << 20, ceiling: 25 << 20, target: 1200,
			want: 3600 * 0.5 * 0.9,
		},
		{
			name:  "target_bound_wins",
			total: 3600, size: 30 << 20, ceiling: 25 << 20, target: 600,
			want: 600,
		},
		{
			name:  "degenerate_duration_falls_back_to_target",
			total: 0, size: 50 << 20, ceiling: 25 << 20, target: 1200,
			want: 1200,
		},
		{
			name:  "never_below_one_second",
			total: 10, size: 1 << 30, ceiling: 1 << 10, target: 1200,
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := segmentSeconds(tt.total, tt.size, tt.ceiling, tt.target)
			assert.InDelta(t, tt.want, got, 0.01)
		})
	}
}

func TestParseProbeDuration(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		wantErr bool
	}{
		{
			name: "format_duration",
			raw:  `{"format":{"duration":"123.45"}}`,
			want: 123.45,
		},
		{
			name: "stream_duration_when_format_missing",
			raw:  `{"streams":[{"duration":"88.5"}],"format":{}}`,
			want: 88.5,
		},
		{
			name: "format_preferred_over_stream",
			raw:  `{"streams":[{"duration":"10"}],"format":{"duration":"20"}}`,
			want: 20,
		},
		{
			name:    "not_available",
			raw:     `{"format":{"duration":"N/A"},"streams":[]}`,
			wantErr: true,
		},
		{
			name:    "garbage",
			raw:     `ffprobe exploded`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbeDuration([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("standup.mp3"))
	assert.True(t, ValidFormat("Recording.WEBM"))
	assert.False(t, ValidFormat("notes.txt"))
	assert.False(t, ValidFormat("noextension"))
}
