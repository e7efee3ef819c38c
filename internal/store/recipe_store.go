package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/vbonduro/mealchat/internal/domain"
)

type RecipeStore struct {
	db *sql.DB
}

func NewRecipeStore(db *sql.DB) *RecipeStore {
	return &RecipeStore{db: db}
}

// DishKey normalises a dish name for catalog lookups: lower case with
// single spaces.
func DishKey(dish string) string {
	return strings.Join(strings.Fields(strings.ToLower(dish)), " ")
}

// Save stores the raw recipe text for dish, replacing any earlier entry.
func (s *RecipeStore) Save(ctx context.Context, dish, title, rawText string) (*domain.CatalogRecipe, error) {
	key := DishKey(dish)
	if key == "" {
		return nil, fmt.Errorf("failed to save recipe: empty dish name")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recipes (dish_key, title, raw_text) VALUES (?, ?, ?)
		ON CONFLICT(dish_key) DO UPDATE SET
			title      = excluded.title,
			raw_text   = excluded.raw_text,
			updated_at = datetime('now')
	`, key, title, rawText)
	if err != nil {
		return nil, fmt.Errorf("failed to save recipe: %w", err)
	}

	return s.getByKey(ctx, key)
}

// lookupCutoff is the minimum similarity for a near match. Keys that only
// share a fragment with the query, like "egg" and "eggplant parmesan", stay
// well below it.
const lookupCutoff = 0.75

// Lookup returns the catalog entry for dish. An exact key match wins;
// otherwise the most similar key scoring at least lookupCutoff is used. It
// returns nil when nothing matches.
func (s *RecipeStore) Lookup(ctx context.Context, dish string) (*domain.CatalogRecipe, error) {
	key := DishKey(dish)
	if key == "" {
		return nil, nil
	}

	r, err := s.getByKey(ctx, key)
	if err != nil || r != nil {
		return r, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT dish_key FROM recipes ORDER BY dish_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to look up recipe: %w", err)
	}
	defer rows.Close()

	best, bestScore := "", 0.0
	for rows.Next() {
		var candidate string
		if err := rows.Scan(&candidate); err != nil {
			return nil, fmt.Errorf("failed to scan dish key: %w", err)
		}
		if score := similarity(key, candidate); score >= lookupCutoff && score > bestScore {
			best, bestScore = candidate, score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dish keys: %w", err)
	}
	if best == "" {
		return nil, nil
	}
	return s.getByKey(ctx, best)
}

// similarity scores two keys between 0 and 1 from their edit distance
// relative to the longer key.
func similarity(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

func (s *RecipeStore) getByKey(ctx context.Context, key string) (*domain.CatalogRecipe, error) {
	r := &domain.CatalogRecipe{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, dish_key, title, raw_text, created_at, updated_at FROM recipes WHERE dish_key = ?
	`, key).Scan(&r.ID, &r.DishKey, &r.Title, &r.RawText, &r.CreatedAt, &r.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipe: %w", err)
	}
	return r, nil
}

func (s *RecipeStore) List(ctx context.Context) ([]*domain.CatalogRecipe, error) {
	return s.query(ctx, `
		SELECT id, dish_key, title, raw_text, created_at, updated_at
		FROM recipes ORDER BY title COLLATE NOCASE ASC
	`)
}

// Search matches query against titles and dish keys, case-insensitively.
func (s *RecipeStore) Search(ctx context.Context, query string) ([]*domain.CatalogRecipe, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return s.query(ctx, `
		SELECT id, dish_key, title, raw_text, created_at, updated_at
		FROM recipes
		WHERE title LIKE ? ESCAPE '\' OR dish_key LIKE ? ESCAPE '\'
		ORDER BY title COLLATE NOCASE ASC
	`, pattern, pattern)
}

func (s *RecipeStore) Delete(ctx context.Context, dish string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM recipes WHERE dish_key = ?
	`, DishKey(dish))
	if err != nil {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("recipe not found")
	}

	return nil
}

func (s *RecipeStore) query(ctx context.Context, q string, args ...any) ([]*domain.CatalogRecipe, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	recipes := make([]*domain.CatalogRecipe, 0)
	for rows.Next() {
		r := &domain.CatalogRecipe{}
		if err := rows.Scan(&r.ID, &r.DishKey, &r.Title, &r.RawText, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		recipes = append(recipes, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recipes: %w", err)
	}

	return recipes, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
