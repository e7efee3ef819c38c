package domain

import "time"

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// ContentKind tells which of the content fields of a ChatMessage is set.
type ContentKind string

const (
	ContentText   ContentKind = "text"
	ContentImage  ContentKind = "image"
	ContentRecipe ContentKind = "recipe"
)

// ChatMessage is one transcript entry. Exactly one of Text, Image or Recipe
// carries the content, selected by Kind.
type ChatMessage struct {
	ID        string            `json:"id" yaml:"id"`
	Role      Role              `json:"role" yaml:"role"`
	Kind      ContentKind       `json:"kind" yaml:"kind"`
	Text      string            `json:"text,omitempty" yaml:"text,omitempty"`
	Image     *ImageRef         `json:"image,omitempty" yaml:"image,omitempty"`
	Recipe    *StructuredRecipe `json:"recipe,omitempty" yaml:"recipe,omitempty"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
}

type ImageRef struct {
	StorageKey string `json:"storage_key,omitempty" yaml:"storage_key,omitempty"`
	MimeType   string `json:"mime_type" yaml:"mime_type"`
	Bytes      int    `json:"bytes" yaml:"bytes"`
}

// StructuredRecipe is the decoded form of a marker-delimited recipe blob.
// A field whose markers were missing holds its placeholder; a blank section
// is empty.
type StructuredRecipe struct {
	Title            string   `json:"title" yaml:"title"`
	InputLines       []string `json:"input_lines" yaml:"input_lines"`
	IngredientLines  []string `json:"ingredient_lines" yaml:"ingredient_lines"`
	InstructionLines []string `json:"instruction_lines" yaml:"instruction_lines"`
}

// Prediction is a single ingredient detection result.
type Prediction struct {
	Label      string  `json:"label" yaml:"label"`
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// SessionState is a point-in-time copy of a conversation session. Seq is the
// number of the last change it includes.
type SessionState struct {
	Messages []ChatMessage `json:"messages" yaml:"messages"`
	Pending  bool          `json:"pending" yaml:"pending"`
	Draft    string        `json:"draft" yaml:"draft"`
	Seq      uint64        `json:"seq" yaml:"seq"`
}

// CatalogRecipe is a generated recipe kept in the local catalog.
type CatalogRecipe struct {
	ID        int64
	DishKey   string
	Title     string
	RawText   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func UserText(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Kind: ContentText, Text: text}
}

func UserImage(ref ImageRef) ChatMessage {
	return ChatMessage{Role: RoleUser, Kind: ContentImage, Image: &ref}
}

func BotText(text string) ChatMessage {
	return ChatMessage{Role: RoleBot, Kind: ContentText, Text: text}
}

func BotRecipe(r StructuredRecipe) ChatMessage {
	return ChatMessage{Role: RoleBot, Kind: ContentRecipe, Recipe: &r}
}
