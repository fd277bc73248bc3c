package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRetryWait(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   time.Duration
		wantOK bool
	}{
		{
			name:   "seconds",
			text:   "rate limit exceeded, retry in 30s",
			want:   30 * time.Second,
			wantOK: true,
		},
		{
			name:   "spelled-out seconds",
			text:   "please retry after 12 seconds",
			want:   12 * time.Second,
			wantOK: true,
		},
		{
			name:   "fractional minutes",
			text:   "Retry after 1.5 minutes",
			want:   90 * time.Second,
			wantOK: true,
		},
		{
			name:   "milliseconds",
			text:   "retry in 500ms",
			want:   500 * time.Millisecond,
			wantOK: true,
		},
		{
			name:   "hours",
			text:   "quota resets, retry in 2 hours",
			want:   2 * time.Hour,
			wantOK: true,
		},
		{
			name: "no retry keyword",
			text: "wait 30s before the next request",
		},
		{
			name: "retry without a duration",
			text: "please retry later",
		},
		{
			name: "duration too far from retry",
			text: "retry the request." + longFiller() + " The quota resets in 30s",
		},
		{
			name: "empty",
			text: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRetryWait(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func longFiller() string {
	filler := ""
	for i := 0; i < 10; i++ {
		filler += " padding padding padding"
	}
	return filler
}
