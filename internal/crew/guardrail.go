package crew

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// Guardrail error codes.
const (
	CodeEmptyInput = "EMPTY_INPUT"
	CodeWordCount  = "WORD_COUNT_ERROR"
	CodeJSON       = "JSON_ERROR"
)

// Guardrail checks a task's output before it is accepted. It returns the
// text to keep, which may differ from out.Raw, or an error. A rejected
// output should be reported as a *GuardrailError so the agent can be told
// what to fix.
type Guardrail func(out TaskOutput) (string, error)

// GuardrailError is a structured rejection. It marshals to
// {"error": ..., "code": ..., "context": {...}}.
type GuardrailError struct {
	Message string         `json:"error"`
	Code    string         `json:"code"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *GuardrailError) Error() string {
	b, err := json.Marshal(e)
	if err != nil {
		return e.Code + ": " + e.Message
	}
	return string(b)
}

// Is makes errors.Is(err, ErrGuardrail) hold for every rejection.
func (e *GuardrailError) Is(target error) bool {
	return target == ErrGuardrail
}

// NotEmpty rejects blank output.
func NotEmpty() Guardrail {
	return func(out TaskOutput) (string, error) {
		if strings.TrimSpace(out.Raw) == "" {
			return "", &GuardrailError{Message: "Empty result", Code: CodeEmptyInput}
		}
		return out.Raw, nil
	}
}

// MaxWords rejects output longer than limit whitespace-separated words
// and trims the output it accepts.
func MaxWords(limit int) Guardrail {
	return func(out TaskOutput) (string, error) {
		n := len(strings.Fields(out.Raw))
		if n > limit {
			return "", &GuardrailError{
				Message: "Content exceeds " + strconv.Itoa(limit) + " words",
				Code:    CodeWordCount,
				Context: map[string]any{"word_count": n, "limit": limit},
			}
		}
		return strings.TrimSpace(out.Raw), nil
	}
}

// ValidJSON rejects output that is not a JSON document.
func ValidJSON() Guardrail {
	return func(out TaskOutput) (string, error) {
		var v any
		if err := json.Unmarshal([]byte(out.Raw), &v); err != nil {
			ge := &GuardrailError{Message: "Invalid JSON format", Code: CodeJSON}
			var syn *json.SyntaxError
			if errors.As(err, &syn) {
				ge.Context = map[string]any{"offset": syn.Offset}
			}
			return "", ge
		}
		return out.Raw, nil
	}
}

// Chain runs guardrails in order, each seeing the text the previous one
// kept. The first rejection stops the chain.
func Chain(guardrails ...Guardrail) Guardrail {
	return func(out TaskOutput) (string, error) {
		for _, g := range guardrails {
			if g == nil {
				continue
			}
			raw, err := g(out)
			if err != nil {
				return "", err
			}
			out.Raw = raw
		}
		return out.Raw, nil
	}
}
