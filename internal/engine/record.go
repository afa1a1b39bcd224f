package engine

import (
	"strings"
	"time"
)

// StageAttemptRecord is the outcome of resolving one stage.
type StageAttemptRecord struct {
	Stage         int             `json:"stage"`
	Success       bool            `json:"success"`
	Elapsed       time.Duration   `json:"elapsed_ns"`
	Source        Source          `json:"source"`
	Retries       int             `json:"retries"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CodeRedacted  string          `json:"code,omitempty"`
	Escalated     bool            `json:"escalated,omitempty"`
	AdvancedTo    int             `json:"advanced_to,omitempty"`
	Waits         []time.Duration `json:"waits_ns,omitempty"`
	At            time.Time       `json:"at"`
}

// TokenUsage totals language model usage for a run.
type TokenUsage struct {
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// RunReport summarizes a run.
type RunReport struct {
	RunID         string               `json:"run_id"`
	URL           string               `json:"url"`
	Iteration     int                  `json:"iteration,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    time.Time            `json:"finished_at"`
	Elapsed       time.Duration        `json:"elapsed_ns"`
	TotalStages   int                  `json:"total_stages"`
	Solved        int                  `json:"solved"`
	Attempted     int                  `json:"attempted"`
	FurthestStage int                  `json:"furthest_stage"`
	Completed     bool                 `json:"completed"`
	TimedOut      bool                 `json:"timed_out,omitempty"`
	Escalations   int                  `json:"escalations,omitempty"`
	Error         string               `json:"error,omitempty"`
	Stages        []StageAttemptRecord `json:"stages"`
	Learned       map[int]Source       `json:"learned,omitempty"`
	TokenUsage    *TokenUsage          `json:"token_usage,omitempty"`
}

// SourceCounts tallies the winning source of each solved stage.
func (r *RunReport) SourceCounts() map[Source]int {
	out := make(map[Source]int)
	for _, s := range r.Stages {
		if s.Success {
			out[s.Source]++
		}
	}
	return out
}

// Redact keeps the first and last two characters of a code.
func Redact(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if len(code) <= 4 {
		return "****"
	}
	return code[:2] + "****" + code[len(code)-2:]
}
