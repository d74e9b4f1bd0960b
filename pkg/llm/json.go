package llm

import (
	"context"
	"encoding/json"
	"strings"

	"specsmith/pkg/llm/llmerrors"
)

// CompleteJSON is the structured variant of the external-call contract: the
// caller receives parsed structured data or a classified parse error, never a
// raw string it must interpret itself.
func CompleteJSON(ctx context.Context, client Client, in CompletionRequest, out any) error {
	resp, err := client.Complete(ctx, in)
	if err != nil {
		return err
	}

	payload := ExtractJSON(resp.Content)
	if payload == "" {
		return llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "completion contained no JSON object")
	}

	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeMalformed, err, "completion JSON failed to parse")
	}
	return nil
}

// ExtractJSON pulls the outermost JSON object out of a completion, tolerating
// markdown code fences and prose around the payload. Returns "" when no
// balanced object is found.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)

	// Strip a ```json ... ``` fence if the model added one.
	if strings.HasPrefix(content, "```") {
		if idx := strings.Index(content, "\n"); idx >= 0 {
			content = content[idx+1:]
		}
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// Braces inside strings do not affect depth.
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
