package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var testThresholds = MergeThresholds{
	LenDelta:   30,
	RelDelta:   0.1,
	Window:     100,
	Similarity: 0.8,
}

func TestCanAutoMerge(t *testing.T) {
	head := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 4)
	tail := strings.Repeat("Pack my box with five dozen liquor jugs. ", 4)

	tests := []struct {
		name   string
		local  string
		server string
		want   bool
	}{
		{
			name:   "identical",
			local:  "same text",
			server: "same text",
			want:   true,
		},
		{
			name:   "small length delta",
			local:  "hello world",
			server: "hello world!!",
			want:   true,
		},
		{
			name:   "relative delta under threshold",
			local:  strings.Repeat("a", 1000),
			server: strings.Repeat("b", 1040),
			want:   true,
		},
		{
			name:   "matching windows with rewritten middle",
			local:  head + strings.Repeat("x", 50) + tail,
			server: head + strings.Repeat("y", 400) + tail,
			want:   true,
		},
		{
			name:   "diverging windows and large delta",
			local:  strings.Repeat("a", 200),
			server: strings.Repeat("z", 400),
			want:   false,
		},
		{
			name:   "diverging head window",
			local:  strings.Repeat("a", 150) + tail,
			server: strings.Repeat("z", 400) + tail,
			want:   false,
		},
		{
			name:   "empty against long",
			local:  "",
			server: strings.Repeat("z", 200),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, CanAutoMerge(tt.local, tt.server, testThresholds))
		})
	}
}

func TestCanAutoMergeWindowShorterThanContent(t *testing.T) {
	// Both strings shorter than the window: similarity is judged on what is
	// there instead of being skipped.
	require.True(t, CanAutoMerge(strings.Repeat("a", 40), strings.Repeat("a", 80), testThresholds))
	require.False(t, CanAutoMerge(strings.Repeat("a", 40), strings.Repeat("z", 80), testThresholds))
}
