package service

import (
	"strconv"
	"strings"
	"time"
)

// conversationalOpeners short-circuit classification: a query starting with one of these is chat, not a lookup.
var conversationalOpeners = []string{
	"what is your name", "who are you", "hello", "how are you", "thank you", "thanks",
	"ok", "okay", "sure", "alright", "please", "can you", "could you", "will you",
	"give me", "tell me", "show me", "explain",
}

// freshInformationPhrases mark queries that need data newer than the model's training.
var freshInformationPhrases = []string{
	"latest news", "current events", "stock price", "weather forecast", "live score",
	"election results", "who won", "what's the score", "is it raining", "latest update",
	"recent news", "top headlines", "current president", "current prime minister", "current leader",
}

var relativeTimeWords = []string{"today", "tomorrow", "yesterday", "this week", "this month"}

// Classifier decides whether a chat query should be augmented with web search.
type Classifier struct {
	now func() time.Time
}

// NewClassifier creates a classifier that uses the wall clock for the current year.
func NewClassifier() *Classifier {
	return &Classifier{now: time.Now}
}

// NeedsSearch reports whether the query asks for fresh information.
// It is deliberately conservative and tolerates false negatives.
func (c *Classifier) NeedsSearch(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}

	for _, opener := range conversationalOpeners {
		if strings.HasPrefix(q, opener) {
			return false
		}
	}

	for _, phrase := range freshInformationPhrases {
		if strings.Contains(q, phrase) {
			return true
		}
	}

	if !strings.HasSuffix(q, "?") {
		return false
	}
	if strings.Contains(q, strconv.Itoa(c.now().Year())) {
		return true
	}
	for _, word := range relativeTimeWords {
		if strings.Contains(q, word) {
			return true
		}
	}
	return false
}
