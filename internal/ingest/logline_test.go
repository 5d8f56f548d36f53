package ingest

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinecard/cinecard/internal/cost"
	"github.com/cinecard/cinecard/pkg/anthropic"
)

type fakeAnthropic struct {
	req  anthropic.MessageRequest
	resp *anthropic.MessageResponse
	err  error
}

func (f *fakeAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.req = req
	return f.resp, f.err
}

func textResponse(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

func TestAnthropicLogliner(t *testing.T) {
	client := &fakeAnthropic{resp: textResponse("\"A thief plants an idea in a dream.\"\nExtra commentary.")}
	l := NewAnthropicLogliner(client, "claude-test", 0)

	got, err := l.Logline(context.Background(), LoglineInput{
		Title:    "Inception",
		Year:     2010,
		Genres:   []string{"Action", "Science Fiction"},
		Overview: "A thief who steals secrets through dreams.",
	})
	require.NoError(t, err)
	assert.Equal(t, "A thief plants an idea in a dream.", got)

	assert.Equal(t, "claude-test", client.req.Model)
	assert.Equal(t, int64(120), client.req.MaxTokens)
	require.Len(t, client.req.Messages, 1)
	prompt := client.req.Messages[0].Content
	assert.Contains(t, prompt, "Title: Inception")
	assert.Contains(t, prompt, "Year: 2010")
	assert.Contains(t, prompt, "Genres: Action, Science Fiction")
	require.NotNil(t, client.req.Temperature)
}

func TestAnthropicLogliner_Errors(t *testing.T) {
	ctx := context.Background()

	l := NewAnthropicLogliner(&fakeAnthropic{}, "m", 50)
	_, err := l.Logline(ctx, LoglineInput{Title: "x", Overview: "  "})
	require.Error(t, err)

	l = NewAnthropicLogliner(&fakeAnthropic{err: eris.New("rate limited")}, "m", 50)
	_, err = l.Logline(ctx, LoglineInput{Title: "x", Overview: "plot"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	l = NewAnthropicLogliner(&fakeAnthropic{resp: textResponse("  ")}, "m", 50)
	_, err = l.Logline(ctx, LoglineInput{Title: "x", Overview: "plot"})
	require.Error(t, err)
}

func TestCleanLogline(t *testing.T) {
	assert.Equal(t, "Hook.", cleanLogline("  “Hook.”  "))
	assert.Equal(t, "First", cleanLogline("First\nSecond"))

	long := strings.Repeat("é", 200) // 400 bytes
	got := cleanLogline(long)
	assert.LessOrEqual(t, len(got), 300)
	assert.True(t, utf8.ValidString(got))
}

func TestAnthropicLogliner_RecordsSpend(t *testing.T) {
	resp := textResponse("A heist inside a dream.")
	resp.Usage = anthropic.TokenUsage{InputTokens: 200, OutputTokens: 40}

	calc := cost.NewCalculator(cost.Rates{Anthropic: map[string]cost.ModelRate{
		"claude-test": {Input: 1.00, Output: 5.00},
	}})
	l := NewAnthropicLogliner(&fakeAnthropic{resp: resp}, "claude-test", 0).WithCost(calc)

	for range 2 {
		_, err := l.Logline(context.Background(), LoglineInput{Title: "x", Overview: "plot"})
		require.NoError(t, err)
	}
	assert.InDelta(t, 0.0008, calc.Total(), 1e-9)
}
