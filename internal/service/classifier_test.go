package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifierNeedsSearch(t *testing.T) {
	c := &Classifier{now: func() time.Time { return time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC) }}

	tests := []struct {
		name  string
		query string
		want  bool
	}{
		{"greeting with question", "hello, how are you?", false},
		{"keyword", "who won the election 2025?", true},
		{"opener wins over keyword", "tell me the latest news", false},
		{"opener wins over time word", "can you check the weather today?", false},
		{"stock price", "AAPL stock price", true},
		{"case and whitespace", "  Latest NEWS about Go  ", true},
		{"relative time with question mark", "what happened in rome yesterday?", true},
		{"relative time without question mark", "what happened in rome yesterday", false},
		{"current year", "best go conferences in 2026?", true},
		{"other year", "best go conferences in 2019?", false},
		{"plain question", "what is a goroutine?", false},
		{"empty", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.NeedsSearch(tt.query))
		})
	}
}
