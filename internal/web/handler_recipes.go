package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/vbonduro/mealchat/internal/domain"
	"github.com/vbonduro/mealchat/internal/recipe"
)

type catalogEntry struct {
	DishKey   string                  `json:"dish_key"`
	Recipe    domain.StructuredRecipe `json:"recipe"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// handleListRecipes lists the local recipe catalog, filtered by ?q= when given.
func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	if s.recipes == nil {
		writeJSON(w, http.StatusOK, []catalogEntry{}, s.logger)
		return
	}

	var (
		found []*domain.CatalogRecipe
		err   error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		found, err = s.recipes.Search(r.Context(), q)
	} else {
		found, err = s.recipes.List(r.Context())
	}
	if err != nil {
		http.Error(w, "failed to list recipes", http.StatusInternalServerError)
		s.logger.Error("list recipes failed", "error", err)
		return
	}

	entries := make([]catalogEntry, 0, len(found))
	for _, c := range found {
		entries = append(entries, catalogEntry{
			DishKey:   c.DishKey,
			Recipe:    recipe.Decode(c.RawText),
			UpdatedAt: c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, entries, s.logger)
}
