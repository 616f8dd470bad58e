package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// rawStep matches what backends actually emit. Param values arrive as
// arbitrary JSON scalars and are coerced to strings.
type rawStep struct {
	Thought string  `json:"thought"`
	Action  *struct {
		SkillName string                 `json:"skill_name"`
		Params    map[string]interface{} `json:"params"`
	} `json:"action"`
	IsFinal bool `json:"is_final"`
}

// StripFences removes a surrounding markdown code fence, with or without
// a language tag, from backend output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		// A language tag like "json" sits alone on the first line.
		if first != "" && !strings.ContainsAny(first, "{}[]") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseStep decodes backend output into a Step, enforcing the structured
// schema. Any violation yields a schema enforcement error so the loop can
// fold the failure into a summary instead of crashing.
func ParseStep(content string) (*Step, error) {
	content = StripFences(content)

	var raw rawStep
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("schema enforcement failed: %w", err)
	}
	if raw.Thought == "" {
		return nil, fmt.Errorf("schema enforcement failed: missing thought")
	}

	// Action is optional: a non-final step may carry only a thought.
	step := &Step{Thought: raw.Thought, IsFinal: raw.IsFinal}
	if raw.Action != nil && !raw.IsFinal {
		if raw.Action.SkillName == "" {
			return nil, fmt.Errorf("schema enforcement failed: action without skill_name")
		}
		params := make(map[string]string, len(raw.Action.Params))
		for k, v := range raw.Action.Params {
			params[k] = coerceString(v)
		}
		step.Action = &ActionSpec{SkillName: raw.Action.SkillName, Params: params}
	}
	return step, nil
}

func coerceString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
