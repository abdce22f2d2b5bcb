package brain

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Approximate Sonnet pricing in cents per million tokens.
const (
	inputCentsPerMTok  = 300.0
	outputCentsPerMTok = 1500.0
)

// AnthropicBrain implements Brain against the Anthropic Messages API.
type AnthropicBrain struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	tracker   *TokenTracker
}

// AnthropicConfig configures an AnthropicBrain.
type AnthropicConfig struct {
	// Model is the model to use. Defaults to Sonnet.
	Model anthropic.Model
	// APIKey overrides the ANTHROPIC_API_KEY environment variable.
	APIKey string
	// MaxTokens caps the response size. Defaults to 8192.
	MaxTokens int64
}

// NewAnthropicBrain creates a Brain backed by the Anthropic API.
func NewAnthropicBrain(cfg AnthropicConfig) (*AnthropicBrain, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	return &AnthropicBrain{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
	}, nil
}

// Tracker returns the cumulative token tracker for this Brain.
func (b *AnthropicBrain) Tracker() *TokenTracker {
	return b.tracker
}

const systemPrompt = "You are an autonomous software agent working inside an isolated " +
	"checkout of the repository. Apply the requested change and describe the result."

// Execute sends the prompt to the model and returns the produced artifact.
// The working directory is included in the prompt context; the model does not
// get filesystem access here.
func (b *AnthropicBrain) Execute(ctx context.Context, prompt, workDir string) (*Result, error) {
	start := time.Now()

	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: b.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt + "\nWorking directory: " + workDir},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("brain execute: %w", err)
	}

	b.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var output string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			output += variant.Text
		}
	}

	return &Result{
		Output:     output,
		Success:    resp.StopReason == anthropic.StopReasonEndTurn,
		CostCents:  costCents(resp.Usage.InputTokens, resp.Usage.OutputTokens),
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func costCents(input, output int64) float64 {
	return float64(input)/1_000_000*inputCentsPerMTok +
		float64(output)/1_000_000*outputCentsPerMTok
}

// TokenTracker accumulates token usage across Brain executions.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates an empty tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from one API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the cumulative input and output token counts.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns how many API calls were recorded.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// CostCents estimates the cumulative cost of all tracked calls.
func (t *TokenTracker) CostCents() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return costCents(t.inputTok, t.outputTok)
}

var _ Brain = (*AnthropicBrain)(nil)
