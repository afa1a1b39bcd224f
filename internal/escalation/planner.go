// Package escalation asks a language model for UI actions when a stage has
// exhausted its retries. The model only ever drives the UI; codes still come
// from the engine's own sources and validation.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

// ErrBudgetExhausted is returned once the per-run call budget is spent.
var ErrBudgetExhausted = errors.New("escalation call budget exhausted")

const maxOutputTokens = 512

// Pricing is the price per million tokens used for the report cost estimate.
type Pricing struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// pricing for the models the planner is normally pointed at. Unknown models
// fall back to flash pricing.
var pricing = map[string]Pricing{
	"gemini-2.5-flash":      {PromptPerMillion: 0.30, CompletionPerMillion: 2.50},
	"gemini-2.5-flash-lite": {PromptPerMillion: 0.10, CompletionPerMillion: 0.40},
	"gemini-2.5-pro":        {PromptPerMillion: 1.25, CompletionPerMillion: 10.00},
	"gemini-2.0-flash":      {PromptPerMillion: 0.10, CompletionPerMillion: 0.40},
}

func pricingFor(model string) Pricing {
	if p, ok := pricing[model]; ok {
		return p
	}
	return pricing["gemini-2.5-flash"]
}

// contentGenerator is the slice of genai.Models the planner uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiPlanner implements engine.Escalator on the Gemini API.
type GeminiPlanner struct {
	models contentGenerator
	cfg    config.EscalationConfig
	price  Pricing
	logger *zap.Logger

	mu    sync.Mutex
	usage engine.TokenUsage
}

var _ engine.Escalator = (*GeminiPlanner)(nil)

// NewGeminiPlanner creates the genai client.
func NewGeminiPlanner(ctx context.Context, cfg config.EscalationConfig, logger *zap.Logger) (*GeminiPlanner, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("escalation api key is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newPlanner(client.Models, cfg, logger), nil
}

func newPlanner(models contentGenerator, cfg config.EscalationConfig, logger *zap.Logger) *GeminiPlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = 5
	}
	return &GeminiPlanner{
		models: models,
		cfg:    cfg,
		price:  pricingFor(cfg.Model),
		logger: logger.Named("escalation"),
	}
}

// reserve claims one call from the budget.
func (p *GeminiPlanner) reserve() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.MaxCalls > 0 && p.usage.Calls >= p.cfg.MaxCalls {
		return false
	}
	p.usage.Calls++
	return true
}

// Plan asks the model for actions that could unstick the page.
func (p *GeminiPlanner) Plan(ctx context.Context, pc engine.PageContext) (engine.Plan, error) {
	if !p.reserve() {
		return engine.Plan{}, ErrBudgetExhausted
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(p.cfg.Temperature),
		MaxOutputTokens:   maxOutputTokens,
		ResponseMIMEType:  "application/json",
	}
	contents := genai.Text(buildPrompt(pc, p.cfg.MaxActions))

	start := time.Now()
	resp, err := p.models.GenerateContent(ctx, p.cfg.Model, contents, genCfg)
	if err != nil {
		return engine.Plan{}, fmt.Errorf("gemini request failed: %w", err)
	}
	p.record(resp.UsageMetadata)

	text := resp.Text()
	if text == "" {
		return engine.Plan{}, fmt.Errorf("gemini returned no text: %w", ErrEmptyPlan)
	}

	plan, err := ParsePlan(text, p.cfg.MaxActions)
	if err != nil {
		p.logger.Debug("Unusable plan from model.", zap.Int("stage", pc.Stage), zap.String("response", truncate(text, 500)), zap.Error(err))
		return engine.Plan{}, err
	}
	p.logger.Info("Escalation plan received.",
		zap.Int("stage", pc.Stage),
		zap.Int("actions", len(plan.Actions)),
		zap.Duration("latency", time.Since(start)),
		zap.String("reasoning", truncate(plan.Reasoning, 200)))
	return plan, nil
}

func (p *GeminiPlanner) record(meta *genai.GenerateContentResponseUsageMetadata) {
	if meta == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	prompt, completion := int(meta.PromptTokenCount), int(meta.CandidatesTokenCount)
	total := int(meta.TotalTokenCount)
	if total == 0 {
		total = prompt + completion
	}
	p.usage.PromptTokens += prompt
	p.usage.CompletionTokens += completion
	p.usage.TotalTokens += total
	p.usage.CostUSD += float64(prompt)/1e6*p.price.PromptPerMillion +
		float64(completion)/1e6*p.price.CompletionPerMillion
}

// Usage returns the totals accumulated so far.
func (p *GeminiPlanner) Usage() engine.TokenUsage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usage
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
