package escalation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrEmptyPlan means the model answered but proposed nothing usable.
var ErrEmptyPlan = errors.New("model returned no usable actions")

// fenceRegex extracts the body of a markdown code fence. \x60 is a backtick.
var fenceRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

// rawAction accepts the field spellings models tend to use.
type rawAction struct {
	Action   string `json:"action"`
	Target   string `json:"target"`
	Selector string `json:"selector"`
	Name     string `json:"name"`
	Text     string `json:"text"`
	Key      string `json:"key"`
}

type rawPlan struct {
	Actions   []rawAction `json:"actions"`
	Reasoning string      `json:"reasoning"`
}

// extractJSON strips fences and surrounding chatter, leaving the outermost
// object or array.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)
	if m := fenceRegex.FindStringSubmatch(response); len(m) > 1 {
		response = m[1]
	}

	start := strings.IndexAny(response, "[{")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if response[start] == '[' {
		closer = ']'
	}
	if end := strings.LastIndexByte(response, closer); end > start {
		return response[start : end+1]
	}
	// Truncated output: hand the tail to the repairer.
	return response[start:]
}

// ParsePlan decodes a model response into a plan. Both a bare action array
// and an {"actions": [...]} object are accepted; malformed JSON is repaired
// first. Unsupported verbs are dropped and at most maxActions are kept.
func ParsePlan(response string, maxActions int) (engine.Plan, error) {
	body := extractJSON(response)
	if body == "" {
		return engine.Plan{}, ErrEmptyPlan
	}

	if !json.Valid([]byte(body)) {
		repaired, err := jsonrepair.JSONRepair(body)
		if err != nil {
			return engine.Plan{}, fmt.Errorf("failed to repair model JSON: %w", err)
		}
		body = repaired
	}

	var raw rawPlan
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &raw.Actions); err != nil {
			return engine.Plan{}, fmt.Errorf("failed to decode action list: %w", err)
		}
	} else if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return engine.Plan{}, fmt.Errorf("failed to decode plan: %w", err)
	}

	plan := engine.Plan{Reasoning: strings.TrimSpace(raw.Reasoning)}
	for _, a := range raw.Actions {
		kind, ok := engine.ParseActionKind(a.Action)
		if !ok {
			continue
		}
		target := firstNonEmpty(a.Target, a.Selector, a.Name)
		if kind != engine.ActionPress && target == "" {
			continue
		}
		plan.Actions = append(plan.Actions, engine.PlanAction{
			Kind:   kind,
			Target: target,
			Text:   a.Text,
			Key:    a.Key,
		})
		if maxActions > 0 && len(plan.Actions) == maxActions {
			break
		}
	}
	if len(plan.Actions) == 0 {
		return plan, ErrEmptyPlan
	}
	return plan, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
