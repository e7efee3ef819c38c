package recipe

import (
	"strings"

	"github.com/vbonduro/mealchat/internal/domain"
)

// Section markers emitted by the generation backend.
const (
	TitleEnd        = "<TITLE_END>"
	InputEnd        = "<INPUT_END>"
	IngredientsEnd  = "<INGR_END>"
	InstructionsEnd = "<INSTR_END>"
)

// Placeholders used when a section cannot be located.
const (
	FallbackTitle        = "Recipe Title"
	FallbackInput        = "No input available."
	FallbackIngredients  = "No ingredients available."
	FallbackInstructions = "No instructions available."
)

// Decode turns a marker-delimited recipe blob into a StructuredRecipe. It
// never fails. A field whose markers are missing takes its placeholder value;
// a field whose markers are present but whose section is blank stays empty.
// Each field is located independently.
func Decode(raw string) domain.StructuredRecipe {
	r := domain.StructuredRecipe{
		Title:            FallbackTitle,
		InputLines:       []string{FallbackInput},
		IngredientLines:  []string{FallbackIngredients},
		InstructionLines: []string{FallbackInstructions},
	}

	if i := strings.Index(raw, TitleEnd); i >= 0 {
		r.Title = strings.TrimSpace(raw[:i])
	}

	if body, ok := between(raw, TitleEnd, InputEnd); ok {
		r.InputLines = SplitLines(body)
	}

	if body, ok := between(raw, InputEnd, IngredientsEnd); ok {
		r.IngredientLines = SplitLines(body)
	}

	// The closing instructions marker is optional; without it the section
	// runs to the end of the blob.
	if body, ok := after(raw, IngredientsEnd); ok {
		if j := strings.Index(body, InstructionsEnd); j >= 0 {
			body = body[:j]
		}
		r.InstructionLines = SplitLines(body)
	}

	return r
}

// SplitLines splits s on newlines, trims every line and drops empty ones.
func SplitLines(s string) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// Found reports whether raw is a well-formed generation: all four section
// markers present, in order.
func Found(raw string) bool {
	rest := raw
	for _, m := range []string{TitleEnd, InputEnd, IngredientsEnd, InstructionsEnd} {
		i := strings.Index(rest, m)
		if i < 0 {
			return false
		}
		rest = rest[i+len(m):]
	}
	return true
}

func after(s, start string) (string, bool) {
	i := strings.Index(s, start)
	if i < 0 {
		return "", false
	}
	return s[i+len(start):], true
}

func between(s, start, end string) (string, bool) {
	rest, ok := after(s, start)
	if !ok {
		return "", false
	}
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}
