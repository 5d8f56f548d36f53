package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"haiku":  {Input: 1.00, Output: 5.00},
			"sonnet": {Input: 3.00, Output: 15.00},
		},
	}
}

func TestClaude(t *testing.T) {
	t.Parallel()
	calc := NewCalculator(testRates())

	tests := []struct {
		name   string
		model  string
		input  int64
		output int64
		want   float64
	}{
		{"haiku logline", "haiku", 200, 40, 0.0004},
		{"sonnet million in", "sonnet", 1_000_000, 0, 3.00},
		{"sonnet million out", "sonnet", 0, 1_000_000, 15.00},
		{"unknown model", "gpt", 1000, 1000, 0},
		{"zero tokens", "haiku", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, calc.Claude(tt.model, tt.input, tt.output), 1e-9)
		})
	}
}

func TestRecordAccumulates(t *testing.T) {
	calc := NewCalculator(testRates())
	assert.InDelta(t, 0.0004, calc.Record("haiku", 200, 40), 1e-9)
	calc.Record("haiku", 200, 40)
	calc.Record("unknown", 1e6, 1e6)
	assert.InDelta(t, 0.0008, calc.Total(), 1e-9)
}

func TestDefaultRates(t *testing.T) {
	rates := DefaultRates()
	assert.Contains(t, rates.Anthropic, "claude-haiku-4-5-20251001")
	for model, r := range rates.Anthropic {
		assert.Positive(t, r.Input, model)
		assert.Greater(t, r.Output, r.Input, model)
	}
}
