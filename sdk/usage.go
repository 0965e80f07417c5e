package golive

import (
	"sync"

	"github.com/voxlink-go/golive/pkg/live/protocol"
)

// Usage is a read-only snapshot of session token consumption. Counters are
// monotonically non-decreasing.
type Usage struct {
	PromptTokens   int
	ResponseTokens int
	TotalTokens    int
	ByModality     map[string]int
}

// usageTracker retains the most recent usage snapshot and raises one
// compression warning per crossing of the configured budget fraction.
type usageTracker struct {
	budget   int
	warnFrac float64

	mu     sync.Mutex
	last   Usage
	warned bool
}

func newUsageTracker(budget int, warnFraction float64) *usageTracker {
	if warnFraction <= 0 {
		warnFraction = 0.8
	}
	return &usageTracker{budget: budget, warnFrac: warnFraction}
}

// record folds a wire snapshot into the tracker. Counters never regress; a
// stale snapshot with lower counts is clamped to the values already seen.
// The second return is true when this snapshot crossed the warning
// threshold.
func (t *usageTracker) record(meta protocol.UsageMetadata) (Usage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := Usage{
		PromptTokens:   max(meta.PromptTokenCount, t.last.PromptTokens),
		ResponseTokens: max(meta.ResponseTokenCount, t.last.ResponseTokens),
		TotalTokens:    max(meta.TotalTokenCount, t.last.TotalTokens),
	}
	if len(meta.ResponseTokensDetails) > 0 {
		next.ByModality = make(map[string]int, len(meta.ResponseTokensDetails))
		for _, d := range meta.ResponseTokensDetails {
			next.ByModality[d.Modality] = d.TokenCount
		}
	} else {
		next.ByModality = t.last.ByModality
	}
	t.last = next

	if t.budget <= 0 {
		return next, false
	}
	threshold := int(float64(t.budget) * t.warnFrac)
	if next.TotalTokens >= threshold {
		if !t.warned {
			t.warned = true
			return next, true
		}
		return next, false
	}
	t.warned = false
	return next, false
}

func (t *usageTracker) latest() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// remaining reports tokens left under the budget, floored at zero. The
// second return is false when no budget was configured.
func (t *usageTracker) remaining() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budget <= 0 {
		return 0, false
	}
	left := t.budget - t.last.TotalTokens
	if left < 0 {
		left = 0
	}
	return left, true
}
