package ingredient

import (
	"strings"

	"github.com/vbonduro/mealchat/internal/domain"
)

// Summarize joins the label of every prediction with ", " in backend order.
// Labels are passed through as received, duplicates included. The boolean is
// false only for an empty list, which callers report as "no ingredients
// detected".
func Summarize(predictions []domain.Prediction) (string, bool) {
	if len(predictions) == 0 {
		return "", false
	}
	labels := make([]string, 0, len(predictions))
	for _, p := range predictions {
		labels = append(labels, p.Label)
	}
	return strings.Join(labels, ", "), true
}
