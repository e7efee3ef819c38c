package backend

import (
	"strconv"
	"strings"

	"github.com/vbonduro/mealchat/internal/domain"
)

// ParseLine parses one "label | confidence" line of an ingredient listing.
// Lines without a pipe are treated as preamble and yield nil.
func ParseLine(line string) *domain.Prediction {
	line = strings.TrimSpace(line)
	if line == "" || isPreamble(line) {
		return nil
	}

	label, rest, ok := strings.Cut(line, "|")
	if !ok {
		return nil
	}
	label = strings.TrimSpace(strings.TrimLeft(label, "-*• "))
	if label == "" {
		return nil
	}

	p := &domain.Prediction{Label: label}
	if conf, err := strconv.ParseFloat(strings.TrimSpace(rest), 64); err == nil && conf >= 0 && conf <= 1 {
		p.Confidence = conf
	}
	return p
}

// ParseResponse parses a full listing, one ingredient per line.
func ParseResponse(raw string) []domain.Prediction {
	out := make([]domain.Prediction, 0)
	for _, line := range strings.Split(raw, "\n") {
		if p := ParseLine(line); p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// ParseDishName extracts the dish name from a classification reply. The
// model is asked for the bare name; a leading label and trailing period are
// tolerated. It returns "" when the model could not tell.
func ParseDishName(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isPreamble(line) {
			continue
		}
		if _, name, ok := strings.Cut(line, ":"); ok {
			line = strings.TrimSpace(name)
		}
		line = strings.Trim(line, `."' `)
		if strings.EqualFold(line, unknownDish) {
			return ""
		}
		return line
	}
	return ""
}

func isPreamble(line string) bool {
	return strings.HasPrefix(line, "Here") || strings.HasPrefix(line, "I see") || strings.HasPrefix(line, "Based on")
}
