package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"RevAI/internal/domain"
)

// criteriaList accepts criteria as a newline-separated string, a list of
// strings, or a list of {id, text} objects. Generated ids are 1-based positions.
func criteriaList(raw json.RawMessage) ([]domain.Criterion, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []domain.Criterion{}, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		lines := make([]string, 0)
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				lines = append(lines, line)
			}
		}
		return numbered(lines), nil
	}

	var texts []string
	if err := json.Unmarshal(raw, &texts); err == nil {
		return numbered(texts), nil
	}

	var items []criterionInput
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: malformed criteria", domain.ErrValidation)
	}
	criteria := make([]domain.Criterion, len(items))
	for i, item := range items {
		id, err := item.id(i + 1)
		if err != nil {
			return nil, err
		}
		criteria[i] = domain.Criterion{ID: id, Text: item.Text}
	}
	return criteria, nil
}

// criterionInput accepts ids given as JSON strings or numbers.
type criterionInput struct {
	ID   json.RawMessage `json:"id"`
	Text string          `json:"text"`
}

func (c criterionInput) id(position int) (string, error) {
	raw := bytes.TrimSpace(c.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return strconv.Itoa(position), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("%w: criterion %d has an invalid id", domain.ErrValidation, position)
}

// criteriaText renders criteria input as the newline-joined prompt text.
func criteriaText(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(bytes.TrimSpace(raw), &text); err == nil {
		return text, nil
	}
	criteria, err := criteriaList(raw)
	if err != nil {
		return "", err
	}
	return domain.CriteriaText(criteria), nil
}

func numbered(texts []string) []domain.Criterion {
	out := make([]domain.Criterion, len(texts))
	for i, t := range texts {
		out[i] = domain.Criterion{ID: strconv.Itoa(i + 1), Text: t}
	}
	return out
}
