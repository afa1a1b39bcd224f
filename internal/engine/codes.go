package engine

import (
	"regexp"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"
)

const (
	// maxScanDepth bounds recursion into nested JSON.
	maxScanDepth = 8
	// MaxStoredValue is the largest storage value worth parsing.
	MaxStoredValue = 100_000
)

var (
	stageKeyDigits  = regexp.MustCompile(`\d+`)
	pureDigits      = regexp.MustCompile(`^\d+$`)
	codeishKeyWords = []string{"code", "answer", "step", "challenge", "token"}
)

// ParseStageCodes decodes a JSON document and extracts stage-indexed codes
// from it. It returns nil when raw is not JSON or holds no such codes.
func ParseStageCodes(raw []byte, totalStages int) map[int]string {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return StageCodesFrom(doc, totalStages)
}

// StageCodesFrom extracts stage codes from an already decoded JSON value.
// Two shapes are recognized anywhere in the document:
//
//   - objects whose keys name a stage ("3", "step3", "step_3", "challenge_code_step_3")
//     and whose value is a string;
//   - arrays of exactly totalStages entries, each a string or an object with
//     a "code"-like field.
func StageCodesFrom(doc interface{}, totalStages int) map[int]string {
	out := make(map[int]string)
	scanStageCodes(doc, totalStages, 0, out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func scanStageCodes(node interface{}, total, depth int, out map[int]string) {
	if depth > maxScanDepth {
		return
	}
	switch v := node.(type) {
	case map[string]interface{}:
		for k, child := range v {
			if s, ok := child.(string); ok {
				if stage, ok := stageFromKey(k, total); ok && looksLikeStoredCode(s) {
					out[stage] = strings.TrimSpace(s)
				}
				continue
			}
			scanStageCodes(child, total, depth+1, out)
		}
	case []interface{}:
		if len(v) != total {
			for _, child := range v {
				scanStageCodes(child, total, depth+1, out)
			}
			return
		}
		for i, item := range v {
			switch entry := item.(type) {
			case string:
				if looksLikeStoredCode(entry) {
					out[i+1] = strings.TrimSpace(entry)
				}
			case map[string]interface{}:
				for k2, v2 := range entry {
					s, ok := v2.(string)
					if ok && strings.Contains(strings.ToLower(k2), "code") && looksLikeStoredCode(s) {
						out[i+1] = strings.TrimSpace(s)
						break
					}
				}
			}
		}
	}
}

// stageFromKey maps an object key to a stage number. Keys either contain
// "step" followed by a number or are a bare number. Other code-ish keys
// without a stage number are not usable.
func stageFromKey(key string, total int) (int, bool) {
	lower := strings.ToLower(key)
	var n int
	var err error
	switch {
	case strings.Contains(lower, "step"):
		digits := stageKeyDigits.FindString(key)
		if digits == "" {
			return 0, false
		}
		n, err = strconv.Atoi(digits)
	case pureDigits.MatchString(key):
		n, err = strconv.Atoi(key)
	default:
		return 0, false
	}
	if err != nil || n < 1 || n > total {
		return 0, false
	}
	return n, true
}

// looksLikeStoredCode is the loose shape check applied while scanning
// payloads; the decoy filter still runs on whatever is picked.
func looksLikeStoredCode(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) >= 4 && len(s) <= 64 && codeCharset.MatchString(s)
}

// isCodeishKey reports whether a storage key is worth parsing as JSON.
func isCodeishKey(key string) bool {
	lower := strings.ToLower(key)
	for _, w := range codeishKeyWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return strings.Contains(lower, "state") || strings.Contains(lower, "data")
}
