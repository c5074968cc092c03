package voice

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTranscript(t *testing.T) {
	cases := map[string]string{
		"Hello there.":              "hello there",
		"  Hello   THERE!  ":        "hello there",
		"...what's up?":             "what's up",
		"Is it 3.5 or 4?":           "is it 3.5 or 4",
		"?!":                        "",
		"":                          "",
		"Okay ;":                    "okay",
		"What is the capital, Bob?": "what is the capital, bob",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeTranscript(in), in)
	}
}

func TestFilter_PunctuationOnlyDifferenceIsDuplicate(t *testing.T) {
	f := NewFilter(2 * time.Second)
	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, Trigger, f.Evaluate("Hello there", t0))
	assert.Equal(t, SuppressDuplicate, f.Evaluate("Hello there.", t0.Add(300*time.Millisecond)))
}

func TestFilter_RepeatedTextTriggersOnce(t *testing.T) {
	f := NewFilter(2 * time.Second)
	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	triggers := 0
	for i := 0; i < 10; i++ {
		if f.Evaluate("What time is it?", t0.Add(time.Duration(i)*5*time.Second)) == Trigger {
			triggers++
		}
	}
	assert.Equal(t, 1, triggers)
}

func TestFilter_Cooldown(t *testing.T) {
	f := NewFilter(2 * time.Second)
	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, Trigger, f.Evaluate("first question", t0))
	assert.Equal(t, SuppressCooldown, f.Evaluate("second question", t0.Add(500*time.Millisecond)))
	assert.Equal(t, SuppressCooldown, f.Evaluate("second question", t0.Add(1999*time.Millisecond)))
	assert.Equal(t, Trigger, f.Evaluate("second question", t0.Add(2*time.Second)))
}

func TestFilter_SuppressedUtteranceDoesNotMoveState(t *testing.T) {
	f := NewFilter(2 * time.Second)
	t0 := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, Trigger, f.Evaluate("one", t0))
	assert.Equal(t, SuppressCooldown, f.Evaluate("two", t0.Add(time.Second)))
	// the cooldown counts from the last trigger, not the last suppression
	assert.Equal(t, Trigger, f.Evaluate("two", t0.Add(2100*time.Millisecond)))
}

func TestFilter_Empty(t *testing.T) {
	f := NewFilter(time.Second)
	now := time.Now()
	assert.Equal(t, SuppressEmpty, f.Evaluate("", now))
	assert.Equal(t, SuppressEmpty, f.Evaluate("  . ", now))
	assert.Equal(t, Trigger, f.Evaluate("hi", now))
}

func TestFilter_Reset(t *testing.T) {
	f := NewFilter(time.Hour)
	now := time.Now()
	assert.Equal(t, Trigger, f.Evaluate("hi", now))
	f.Reset()
	assert.Equal(t, Trigger, f.Evaluate("hi", now))
}

func TestFilter_ConcurrentDuplicatesTriggerOnce(t *testing.T) {
	f := NewFilter(2 * time.Second)
	now := time.Now()

	var mu sync.Mutex
	triggers := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.Evaluate("Hello there.", now) == Trigger {
				mu.Lock()
				triggers++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, triggers)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "trigger", Trigger.String())
	assert.Equal(t, "duplicate", SuppressDuplicate.String())
	assert.Equal(t, "cooldown", SuppressCooldown.String())
	assert.Equal(t, "empty", SuppressEmpty.String())
	assert.Equal(t, "unknown", Decision(42).String())
}
