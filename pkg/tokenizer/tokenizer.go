// Package tokenizer estimates prompt sizes in model tokens.
//
// The BPE ranks are loaded in the background, started by Warm or the first
// Count. Until they are available, or when they cannot be loaded at all, a
// character/word heuristic is used instead, so Count never waits on I/O.
package tokenizer

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used by Counter.
const DefaultEncoding = "cl100k_base"

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// Tiktoken counts tokens with a tiktoken encoding, falling back to Estimate.
type Tiktoken struct {
	name  string
	once  sync.Once
	enc   atomic.Pointer[tiktoken.Tiktoken]
	ready chan struct{}
}

// New returns a tiktoken-backed Counter for the named encoding.
func New(encoding string) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &Tiktoken{name: encoding, ready: make(chan struct{})}
}

// Warm starts loading the encoding in the background and returns at once.
func (t *Tiktoken) Warm() {
	t.once.Do(func() {
		go func() {
			defer close(t.ready)
			if enc, err := tiktoken.GetEncoding(t.name); err == nil {
				t.enc.Store(enc)
			}
		}()
	})
}

// Ready is closed once loading has finished, whether or not it succeeded.
func (t *Tiktoken) Ready() <-chan struct{} { return t.ready }

// Count returns the token count of text.
func (t *Tiktoken) Count(text string) int {
	t.Warm()
	if enc := t.enc.Load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Exact reports whether the BPE encoding is in use.
func (t *Tiktoken) Exact() bool {
	return t.enc.Load() != nil
}

// Estimate returns a heuristic token estimate: max(runes/4, word_count).
func Estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// Heuristic is a Counter that only uses Estimate.
type Heuristic struct{}

// Count implements Counter.
func (Heuristic) Count(text string) int { return Estimate(text) }
