package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Calibrator tracks how far the chars-per-token estimate drifts from
// provider-reported counts. It also offers an exact local count via
// tiktoken for callers that want the cross-check.
type Calibrator struct {
	mu       sync.Mutex
	samples  int
	errorSum float64
	window   int
	encoding *tiktoken.Tiktoken
}

// NewCalibrator creates a calibrator. The tiktoken encoding is best-effort;
// a load failure leaves exact counting unavailable but drift tracking still
// works.
func NewCalibrator(window int) *Calibrator {
	if window <= 0 {
		window = 100
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &Calibrator{window: window, encoding: enc}
}

// CountTokens returns the exact tiktoken count, or -1 when the encoding is
// unavailable.
func (c *Calibrator) CountTokens(text string) int {
	if c.encoding == nil {
		return -1
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Record adds one estimate-vs-actual sample. Actual counts come from the
// provider's usage block.
func (c *Calibrator) Record(estimated, actual int) {
	if estimated <= 0 || actual <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samples >= c.window {
		// Decay instead of a true sliding window; the trend is what matters.
		c.errorSum *= float64(c.window-1) / float64(c.window)
		c.samples = c.window - 1
	}
	c.errorSum += float64(estimated-actual) / float64(actual)
	c.samples++
}

// RollingError is the mean relative estimation error. Positive means the
// estimate runs high.
func (c *Calibrator) RollingError() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.samples == 0 {
		return 0
	}
	return c.errorSum / float64(c.samples)
}

// Samples returns how many samples inform the rolling error.
func (c *Calibrator) Samples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples
}
