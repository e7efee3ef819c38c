package claude

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/mealchat/internal/backend"
	"github.com/vbonduro/mealchat/internal/domain"
)

const DefaultModel = "claude-3-5-haiku-latest"

// maxTokens comfortably fits a full recipe in the marker format.
const maxTokens = 1024

type ClaudeBackend struct {
	client *anthropic.Client
	model  string
}

var _ backend.Backend = (*ClaudeBackend)(nil)

// NewClaudeBackend builds a backend on the Anthropic Messages API. baseURL
// may be empty to use the public endpoint.
func NewClaudeBackend(apiKey, model, baseURL string) *ClaudeBackend {
	if model == "" {
		model = DefaultModel
	}
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return &ClaudeBackend{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *ClaudeBackend) GenerateRecipe(ctx context.Context, dishName string) (string, error) {
	text, err := c.complete(ctx, "generate recipe", []anthropic.Message{
		anthropic.NewUserTextMessage(backend.RecipePrompt + dishName),
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("generate recipe: %w", backend.ErrEmptyResult)
	}
	return text, nil
}

// Chat streams the reply through the SDK's content block delta callback.
// Errors that happen before the first chunk are delivered as a
// *backend.TransportError event, later ones as a *backend.StreamError.
func (c *ClaudeBackend) Chat(ctx context.Context, message string) (<-chan backend.StreamEvent, error) {
	const op = "chat"

	ch := make(chan backend.StreamEvent, 16)

	go func() {
		defer close(ch)

		send := func(ev backend.StreamEvent) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}

		started := false
		_, err := c.client.CreateMessagesStream(ctx, anthropic.MessagesStreamRequest{
			MessagesRequest: anthropic.MessagesRequest{
				Model:     anthropic.Model(c.model),
				System:    backend.ChatSystemPrompt,
				Messages:  []anthropic.Message{anthropic.NewUserTextMessage(message)},
				MaxTokens: maxTokens,
			},
			OnContentBlockDelta: func(data anthropic.MessagesEventContentBlockDeltaData) {
				chunk := data.Delta.GetText()
				if chunk == "" {
					return
				}
				started = true
				send(backend.StreamEvent{Chunk: chunk})
			},
		})
		if err == nil || ctx.Err() != nil {
			return
		}
		if started {
			send(backend.StreamEvent{Err: &backend.StreamError{Op: op, Err: err}})
			return
		}
		send(backend.StreamEvent{Err: transportError(op, err)})
	}()

	return ch, nil
}

func (c *ClaudeBackend) ClassifyDish(ctx context.Context, r io.Reader, mimeType string) (string, error) {
	const op = "classify dish"

	msg, err := imageMessage(r, mimeType, backend.ClassifyPrompt)
	if err != nil {
		return "", err
	}
	text, err := c.complete(ctx, op, []anthropic.Message{msg})
	if err != nil {
		return "", err
	}
	name := backend.ParseDishName(text)
	if name == "" {
		return "", fmt.Errorf("%s: %w", op, backend.ErrEmptyResult)
	}
	return name, nil
}

func (c *ClaudeBackend) DetectIngredients(ctx context.Context, r io.Reader, mimeType string) ([]domain.Prediction, error) {
	msg, err := imageMessage(r, mimeType, backend.IngredientsPrompt)
	if err != nil {
		return nil, err
	}
	text, err := c.complete(ctx, "detect ingredients", []anthropic.Message{msg})
	if err != nil {
		return nil, err
	}
	return backend.ParseResponse(text), nil
}

// complete runs a non-streaming request and returns the first text block.
func (c *ClaudeBackend) complete(ctx context.Context, op string, msgs []anthropic.Message) (string, error) {
	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", transportError(op, err)
	}
	for _, blk := range resp.Content {
		if blk.Type == anthropic.MessagesContentTypeText {
			return blk.GetText(), nil
		}
	}
	return "", nil
}

func imageMessage(r io.Reader, mimeType, prompt string) (anthropic.Message, error) {
	imageData, err := io.ReadAll(r)
	if err != nil {
		return anthropic.Message{}, fmt.Errorf("failed to read image: %w", err)
	}
	return anthropic.Message{
		Role: anthropic.RoleUser,
		Content: []anthropic.MessageContent{
			anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
				anthropic.MessagesContentSourceTypeBase64,
				normaliseMIME(mimeType),
				base64.StdEncoding.EncodeToString(imageData),
			)),
			anthropic.NewTextMessageContent(prompt),
		},
	}, nil
}

// transportError classifies SDK failures. An API error body or an HTTP
// status means the service answered; anything else means it was unreachable.
func transportError(op string, err error) *backend.TransportError {
	te := &backend.TransportError{Op: op, Err: err}

	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		te.StatusCode = reqErr.StatusCode
		te.Rejected = reqErr.StatusCode != 0
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		te.Rejected = true
	}
	return te
}

// normaliseMIME maps MIME types to the values the Anthropic API accepts.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
