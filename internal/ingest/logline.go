package ingest

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/cost"
	"github.com/cinecard/cinecard/pkg/anthropic"
)

const loglineSystemPrompt = `You write loglines for a movie catalog. Reply with exactly one sentence of at most 30 words that hooks a viewer without spoiling the ending. No quotes, no preamble.`

// LoglineInput is the card data a logline is written from.
type LoglineInput struct {
	Title    string
	Year     int
	Genres   []string
	Overview string
}

// Logliner writes one-sentence hooks for cards.
type Logliner interface {
	Logline(ctx context.Context, in LoglineInput) (string, error)
}

// AnthropicLogliner generates loglines with a Claude model.
type AnthropicLogliner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	cost      *cost.Calculator
}

// NewAnthropicLogliner creates a Logliner backed by client.
func NewAnthropicLogliner(client anthropic.Client, model string, maxTokens int64) *AnthropicLogliner {
	if maxTokens <= 0 {
		maxTokens = 120
	}
	return &AnthropicLogliner{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		cost:      cost.NewCalculator(cost.DefaultRates()),
	}
}

// WithCost replaces the calculator that records completion spend.
func (l *AnthropicLogliner) WithCost(c *cost.Calculator) *AnthropicLogliner {
	l.cost = c
	return l
}

func (l *AnthropicLogliner) Logline(ctx context.Context, in LoglineInput) (string, error) {
	if strings.TrimSpace(in.Overview) == "" {
		return "", eris.New("ingest: no overview to write a logline from")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\n", in.Title)
	if in.Year > 0 {
		fmt.Fprintf(&sb, "Year: %d\n", in.Year)
	}
	if len(in.Genres) > 0 {
		fmt.Fprintf(&sb, "Genres: %s\n", strings.Join(in.Genres, ", "))
	}
	fmt.Fprintf(&sb, "Overview: %s", in.Overview)

	temp := 0.4
	resp, err := l.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       l.model,
		MaxTokens:   l.maxTokens,
		System:      loglineSystemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: sb.String()}},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "ingest: logline completion")
	}
	if resp == nil {
		return "", eris.New("ingest: empty logline")
	}
	usd := l.cost.Record(l.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	zap.L().Debug("logline completion",
		zap.String("component", "ingest.logline"),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
		zap.Float64("cost_usd", usd),
	)

	line := cleanLogline(resp.Text())
	if line == "" {
		return "", eris.New("ingest: empty logline")
	}
	return line, nil
}

// cleanLogline keeps the first line of a completion and strips wrapping quotes.
func cleanLogline(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'“” ")
	const maxLen = 300
	if len(s) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimSpace(s[:cut])
	}
	return s
}
