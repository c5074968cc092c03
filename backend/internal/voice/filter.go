package voice

import (
	"strings"
	"sync"
	"time"
)

// Decision is the debounce outcome for one final transcript
type Decision int

const (
	Trigger Decision = iota
	SuppressEmpty
	SuppressDuplicate
	SuppressCooldown
)

func (d Decision) String() string {
	switch d {
	case Trigger:
		return "trigger"
	case SuppressEmpty:
		return "empty"
	case SuppressDuplicate:
		return "duplicate"
	case SuppressCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Filter suppresses empty, repeated and too-frequent utterances for one
// session. Providers often re-emit a final transcript with only formatting
// changes, so comparison is on normalised text.
type Filter struct {
	cooldown time.Duration

	mu       sync.Mutex
	lastText string
	lastAt   time.Time
}

// NewFilter creates a filter with the minimum interval between triggers
func NewFilter(cooldown time.Duration) *Filter {
	return &Filter{cooldown: cooldown}
}

// Evaluate decides whether text should start a cycle. On Trigger the
// filter state is updated before returning.
func (f *Filter) Evaluate(text string, now time.Time) Decision {
	normalized := NormalizeTranscript(text)
	if normalized == "" {
		return SuppressEmpty
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if normalized == f.lastText {
		return SuppressDuplicate
	}
	if !f.lastAt.IsZero() && now.Sub(f.lastAt) < f.cooldown {
		return SuppressCooldown
	}

	f.lastText = normalized
	f.lastAt = now
	return Trigger
}

// Reset forgets the last processed utterance
func (f *Filter) Reset() {
	f.mu.Lock()
	f.lastText = ""
	f.lastAt = time.Time{}
	f.mu.Unlock()
}

// NormalizeTranscript lowercases, strips surrounding punctuation and
// collapses whitespace
func NormalizeTranscript(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	joined := strings.Join(fields, " ")
	return strings.Trim(joined, ".,!?;: ")
}
