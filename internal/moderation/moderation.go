// Package moderation classifies message text for content-filtered chats.
package moderation

import (
	"context"
	"strings"
	"unicode"
)

// Classifier decides whether text is appropriate.
type Classifier interface {
	Classify(ctx context.Context, text string) (bool, error)
}

// WordList flags text containing any blocked word, case-insensitively and
// on word boundaries.
type WordList struct {
	blocked map[string]struct{}
}

// NewWordList builds a classifier from blocked words. Empty input allows everything.
func NewWordList(words []string) *WordList {
	blocked := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			blocked[w] = struct{}{}
		}
	}
	return &WordList{blocked: blocked}
}

// Classify implements Classifier.
func (w *WordList) Classify(_ context.Context, text string) (bool, error) {
	if len(w.blocked) == 0 {
		return true, nil
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if _, bad := w.blocked[f]; bad {
			return false, nil
		}
	}
	return true, nil
}
