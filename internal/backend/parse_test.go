package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vbonduro/mealchat/internal/domain"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		expected *domain.Prediction
	}{
		{
			name:     "label and confidence",
			line:     "tomato | 0.92",
			expected: &domain.Prediction{Label: "tomato", Confidence: 0.92},
		},
		{
			name:     "bullet prefix",
			line:     "- red onion | 0.5",
			expected: &domain.Prediction{Label: "red onion", Confidence: 0.5},
		},
		{
			name:     "confidence not a number",
			line:     "garlic | high",
			expected: &domain.Prediction{Label: "garlic"},
		},
		{
			name:     "confidence out of range",
			line:     "garlic | 7",
			expected: &domain.Prediction{Label: "garlic"},
		},
		{
			// Without a pipe the line cannot be told apart from preamble.
			name:     "no pipe",
			line:     "garlic",
			expected: nil,
		},
		{
			name:     "empty label",
			line:     " | 0.3",
			expected: nil,
		},
		{
			name:     "preamble",
			line:     "Here are the ingredients | sorted",
			expected: nil,
		},
		{
			name:     "blank",
			line:     "   ",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLine(tt.line))
		})
	}
}

func TestParseResponse(t *testing.T) {
	raw := "Based on the image:\n\negg | 0.8\nmilk | 0.7\nnot an item\n"
	assert.Equal(t, []domain.Prediction{
		{Label: "egg", Confidence: 0.8},
		{Label: "milk", Confidence: 0.7},
	}, ParseResponse(raw))

	assert.Empty(t, ParseResponse(""))
	assert.NotNil(t, ParseResponse(""))
}

func TestParseDishName(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"Pad Thai", "Pad Thai"},
		{"  Lasagna.\n", "Lasagna"},
		{"Dish: Ramen", "Ramen"},
		{`"Tacos"`, "Tacos"},
		{"\n\nSushi\nextra", "Sushi"},
		{"UNKNOWN", ""},
		{"unknown.", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseDishName(tt.raw))
		})
	}
}
