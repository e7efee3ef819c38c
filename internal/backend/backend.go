package backend

import (
	"context"
	"io"

	"github.com/vbonduro/mealchat/internal/domain"
)

// RecipePrompt asks a text model for the marker-delimited recipe format the
// recipe decoder understands.
const RecipePrompt = `You are a cooking assistant. Write a complete recipe for the dish below.
Respond in plain text using exactly this layout and these markers:
<dish title><TITLE_END>
<the dish or ingredients the user asked for, one per line><INPUT_END>
<one ingredient with quantity per line><INGR_END>
<one instruction step per line><INSTR_END>
Dish: `

// ClassifyPrompt asks a vision model to name the dish in a photo.
const ClassifyPrompt = `Name the dish shown in this photo.
Reply with the dish name only, for example "Pad Thai".
If the photo does not show a dish, reply UNKNOWN.`

// IngredientsPrompt asks a vision model for a listing ParseResponse reads.
const IngredientsPrompt = `List every raw ingredient you can see in this photo.
Respond in plain text, one ingredient per line,
format: ingredient | confidence between 0 and 1`

const ChatSystemPrompt = "You are a friendly cooking assistant. Answer briefly and practically."

// unknownDish is the classification reply for photos that show no dish.
const unknownDish = "UNKNOWN"

// Backend is the remote generation and classification service.
type Backend interface {
	// GenerateRecipe returns a marker-delimited recipe blob for dishName.
	GenerateRecipe(ctx context.Context, dishName string) (string, error)

	// Chat streams a free-text reply. Chunks arrive on the returned channel
	// in order; the channel is closed when the reply ends. A failure after
	// the stream started is delivered as a final event with Err set.
	Chat(ctx context.Context, message string) (<-chan StreamEvent, error)

	// ClassifyDish names the dish shown in the image.
	ClassifyDish(ctx context.Context, r io.Reader, mimeType string) (string, error)

	// DetectIngredients lists the ingredients visible in the image. An empty
	// result is not an error.
	DetectIngredients(ctx context.Context, r io.Reader, mimeType string) ([]domain.Prediction, error)
}

// StreamEvent is either a text chunk or an error emitted during streaming.
type StreamEvent struct {
	Chunk string
	Err   error
}
