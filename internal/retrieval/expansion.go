package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const hydePrompt = `You are a knowledgeable assistant.
Write a short hypothetical answer (2-4 sentences) to the question below, as
if it were a passage from the user's own notes. Do not say you are unsure.
Output ONLY the passage.

QUESTION:
%s`

const multiQueryPrompt = `You are a search assistant.
Rewrite the question below as %d alternative search queries that use
different wording but keep the same meaning.
- Return a JSON array of strings only. No extra text.
- Use the same language as the question.

QUESTION:
%s`

// generateHyDE asks the completion capability for a hypothetical answer
// whose embedding tends to land closer to answer-bearing chunks than the
// question's own embedding.
func (e *Engine) generateHyDE(ctx context.Context, query string) (string, error) {
	text, err := e.generator.Generate(ctx, fmt.Sprintf(hydePrompt, query))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty hyde response")
	}
	return text, nil
}

// generateParaphrases asks for n reworded variants of the query.
func (e *Engine) generateParaphrases(ctx context.Context, query string, n int) ([]string, error) {
	result, err := e.generator.Generate(ctx, fmt.Sprintf(multiQueryPrompt, n, query))
	if err != nil {
		return nil, err
	}
	return parseStringArray(result, n)
}

func parseStringArray(output string, max int) ([]string, error) {
	clean := strings.TrimSpace(output)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	start := strings.Index(clean, "[")
	end := strings.LastIndex(clean, "]")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}

	var values []string
	if err := json.Unmarshal([]byte(clean), &values); err != nil {
		return nil, fmt.Errorf("parse paraphrases: %w", err)
	}
	uniq := make([]string, 0, len(values))
	seen := make(map[string]bool)
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if seen[key] {
			continue
		}
		seen[key] = true
		uniq = append(uniq, normalized)
		if len(uniq) >= max {
			break
		}
	}
	if len(uniq) == 0 {
		return nil, fmt.Errorf("no paraphrases found")
	}
	return uniq, nil
}
