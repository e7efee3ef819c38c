package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vbonduro/mealchat/internal/backend"
	"github.com/vbonduro/mealchat/internal/conversation"
	"github.com/vbonduro/mealchat/internal/domain"
	"github.com/vbonduro/mealchat/internal/ingredient"
	"github.com/vbonduro/mealchat/internal/recipe"
	"github.com/vbonduro/mealchat/internal/stream"
)

var (
	ErrBlankInput = errors.New("input is blank")
	ErrEmptyImage = errors.New("image is empty")
)

// Bot messages shown to the user.
const (
	PlaceholderMessage = "Analyzing your food item..."

	RecipeErrorMessage = "🚨 Error generating recipe. Try again!"
	ChatErrorMessage   = "🚨 Error communicating with chatbot. Try again!"

	DishDetectedFormat         = "Ohhh! I see you sent me a picture of %s"
	DishAnalysisErrorMessage   = "Sorry, something went wrong while analyzing the image."
	DishProcessingErrorMessage = "Error processing the image."

	IngredientsFoundFormat           = "I found the following ingredient(s): %s"
	NoIngredientsMessage             = "No ingredients detected in the image."
	IngredientAnalysisErrorMessage   = "Sorry, something went wrong while detecting ingredients."
	IngredientProcessingErrorMessage = "There was an error processing the image for ingredient detection."
)

// DefaultPacing is the delay before the placeholder message appears.
const DefaultPacing = time.Second

// Mode selects how a text turn is answered.
type Mode string

const (
	// ModeRecipe answers with a single structured recipe.
	ModeRecipe Mode = "recipe"
	// ModeChat streams a free-text reply into one growing message.
	ModeChat Mode = "chat"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeRecipe, "":
		return ModeRecipe, nil
	case ModeChat:
		return ModeChat, nil
	default:
		return "", fmt.Errorf("unknown chat mode %q", s)
	}
}

// Presenter renders conversation changes. It is called synchronously, in
// mutation order, and must not call back into the controller.
type Presenter interface {
	Present(change conversation.Change)
}

// recipeCatalog is the subset of store.RecipeStore that Controller requires.
type recipeCatalog interface {
	Lookup(ctx context.Context, dish string) (*domain.CatalogRecipe, error)
	Save(ctx context.Context, dish, title, rawText string) (*domain.CatalogRecipe, error)
}

// imageSaver is the subset of imagestore.ImageStore that Controller requires.
type imageSaver interface {
	Save(ctx context.Context, prefix, mimeType string, r io.Reader) (string, error)
}

type Option func(*Controller)

func WithMode(m Mode) Option {
	return func(c *Controller) { c.mode = m }
}

// WithPacing sets the placeholder delay. Zero disables it.
func WithPacing(d time.Duration) Option {
	return func(c *Controller) { c.pacing = d }
}

func WithCatalog(cat recipeCatalog) Option {
	return func(c *Controller) { c.catalog = cat }
}

func WithImageStore(s imageSaver) Option {
	return func(c *Controller) { c.images = s }
}

func WithPresenter(p Presenter) Option {
	return func(c *Controller) { c.store.Observe(p.Present) }
}

// Controller runs the turns of one chat session against a backend and
// records every step in its conversation store. Backend failures never
// escape a turn; they become fixed bot messages.
type Controller struct {
	backend backend.Backend
	store   *conversation.Store
	logger  *slog.Logger
	mode    Mode
	pacing  time.Duration
	catalog recipeCatalog
	images  imageSaver
	turns   atomic.Int64
}

func New(b backend.Backend, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		backend: b,
		store:   conversation.NewStore(),
		logger:  logger,
		mode:    ModeRecipe,
		pacing:  DefaultPacing,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Mode() Mode {
	return c.mode
}

// Observe registers an additional presenter.
func (c *Controller) Observe(p Presenter) {
	c.store.Observe(p.Present)
}

func (c *Controller) State() domain.SessionState {
	return c.store.State()
}

func (c *Controller) SetDraft(text string) {
	c.store.SetDraft(text)
}

// ValidateText reports ErrBlankInput for empty or whitespace-only input.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrBlankInput
	}
	return nil
}

// SubmitText runs one text turn and blocks until it completes. The user
// message is appended and the draft cleared before anything else happens.
// Only blank input is reported as an error.
func (c *Controller) SubmitText(ctx context.Context, text string) error {
	if err := ValidateText(text); err != nil {
		return err
	}

	c.store.Append(domain.UserText(text))
	c.store.SetDraft("")

	c.store.BeginRequest()
	defer c.store.EndRequest()

	c.runTurn(ctx, strings.TrimSpace(text))
	return nil
}

// SubmitDraft submits the current draft input.
func (c *Controller) SubmitDraft(ctx context.Context) error {
	return c.SubmitText(ctx, c.store.Draft())
}

// UploadDishImage classifies the dish in the image and, on success, answers
// with a recipe for it as if the dish name had been submitted.
func (c *Controller) UploadDishImage(ctx context.Context, data []byte, mimeType string) error {
	if len(data) == 0 {
		return ErrEmptyImage
	}

	c.appendImage(ctx, "dish", data, mimeType)

	c.store.BeginRequest()
	defer c.store.EndRequest()

	c.logger.Info("dish classification started", "mime_type", mimeType, "bytes", len(data))
	dish, err := c.backend.ClassifyDish(ctx, bytes.NewReader(data), mimeType)
	if err != nil {
		c.logger.Error("failed to classify dish", "error", err)
		if backend.IsRejected(err) {
			c.store.Append(domain.BotText(DishAnalysisErrorMessage))
		} else {
			c.store.Append(domain.BotText(DishProcessingErrorMessage))
		}
		return nil
	}
	c.logger.Info("dish classification complete", "dish", dish)

	c.store.Append(domain.BotText(fmt.Sprintf(DishDetectedFormat, dish)))
	c.runTurn(ctx, dish)
	return nil
}

// UploadIngredientImage detects ingredients in the image. A non-empty result
// is placed in the draft so the user can edit and submit it.
func (c *Controller) UploadIngredientImage(ctx context.Context, data []byte, mimeType string) error {
	if len(data) == 0 {
		return ErrEmptyImage
	}

	c.appendImage(ctx, "ingredients", data, mimeType)

	c.store.BeginRequest()
	defer c.store.EndRequest()

	c.logger.Info("ingredient detection started", "mime_type", mimeType, "bytes", len(data))
	predictions, err := c.backend.DetectIngredients(ctx, bytes.NewReader(data), mimeType)
	if err != nil {
		c.logger.Error("failed to detect ingredients", "error", err)
		if backend.IsRejected(err) {
			c.store.Append(domain.BotText(IngredientAnalysisErrorMessage))
		} else {
			c.store.Append(domain.BotText(IngredientProcessingErrorMessage))
		}
		return nil
	}
	c.logger.Info("ingredient detection complete", "predictions", len(predictions))

	summary, ok := ingredient.Summarize(predictions)
	if !ok {
		c.store.Append(domain.BotText(NoIngredientsMessage))
		return nil
	}
	c.store.SetDraft(summary)
	c.store.Append(domain.BotText(fmt.Sprintf(IngredientsFoundFormat, summary)))
	return nil
}

// appendImage stores the upload when an image store is configured and
// appends the user image message. A storage failure only loses the key.
func (c *Controller) appendImage(ctx context.Context, prefix string, data []byte, mimeType string) {
	ref := domain.ImageRef{MimeType: mimeType, Bytes: len(data)}
	if c.images != nil {
		key, err := c.images.Save(ctx, prefix, mimeType, bytes.NewReader(data))
		if err != nil {
			c.logger.Error("failed to save uploaded image", "error", err)
		} else {
			ref.StorageKey = key
			c.logger.Debug("image saved", "storage_key", key)
		}
	}
	c.store.Append(domain.UserImage(ref))
}

// runTurn waits out the pacing delay, shows the placeholder and answers
// query according to the mode. The caller holds the pending flag.
func (c *Controller) runTurn(ctx context.Context, query string) {
	turn := c.turns.Add(1)
	logger := c.logger.With("turn", turn, "mode", string(c.mode))

	errMessage := RecipeErrorMessage
	if c.mode == ModeChat {
		errMessage = ChatErrorMessage
	}

	if err := c.pace(ctx); err != nil {
		logger.Warn("turn cancelled before placeholder", "error", err)
		c.store.Append(domain.BotText(errMessage))
		return
	}
	c.store.Append(domain.BotText(PlaceholderMessage))

	var err error
	switch c.mode {
	case ModeChat:
		err = c.streamReply(ctx, logger, query)
	default:
		err = c.answerRecipe(ctx, logger, query)
	}
	if err != nil {
		logger.Error("turn failed", "error", err)
		c.store.Append(domain.BotText(errMessage))
		return
	}
	logger.Info("turn complete")
}

func (c *Controller) pace(ctx context.Context) error {
	if c.pacing <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.pacing)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) answerRecipe(ctx context.Context, logger *slog.Logger, dish string) error {
	raw, err := c.recipeText(ctx, logger, dish)
	if err != nil {
		return err
	}
	c.store.Append(domain.BotRecipe(recipe.Decode(raw)))
	return nil
}

// recipeText answers from the catalog when it knows the dish, otherwise asks
// the backend and remembers a well-formed answer.
func (c *Controller) recipeText(ctx context.Context, logger *slog.Logger, dish string) (string, error) {
	if c.catalog != nil {
		hit, err := c.catalog.Lookup(ctx, dish)
		if err != nil {
			logger.Warn("catalog lookup failed", "dish", dish, "error", err)
		} else if hit != nil {
			logger.Info("recipe served from catalog", "dish", dish, "dish_key", hit.DishKey)
			return hit.RawText, nil
		}
	}

	logger.Info("recipe generation started", "dish", dish)
	raw, err := c.backend.GenerateRecipe(ctx, dish)
	if err != nil {
		return "", fmt.Errorf("failed to generate recipe: %w", err)
	}

	if c.catalog != nil && recipe.Found(raw) {
		title := recipe.Decode(raw).Title
		if _, err := c.catalog.Save(ctx, dish, title, raw); err != nil {
			logger.Warn("failed to save recipe to catalog", "dish", dish, "error", err)
		}
	}
	return raw, nil
}

// streamReply feeds the chat stream through an aggregator writing to the
// transcript tail. The first chunk replaces the placeholder. On failure the
// partial reply stays in place.
func (c *Controller) streamReply(ctx context.Context, logger *slog.Logger, message string) error {
	events, err := c.backend.Chat(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to start chat: %w", err)
	}

	agg := stream.NewAggregator(c.store)
	text, err := agg.Consume(ctx, events)
	if err != nil {
		return fmt.Errorf("failed to stream chat reply after %d bytes: %w", len(text), err)
	}
	if text == "" {
		return fmt.Errorf("chat: %w", backend.ErrEmptyResult)
	}
	logger.Debug("chat reply complete", "bytes", len(text))
	return nil
}
