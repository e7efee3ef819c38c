package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vbonduro/mealchat/internal/backend"
	"github.com/vbonduro/mealchat/internal/domain"
)

const (
	DefaultHost  = "http://localhost:11434"
	DefaultModel = "llava"
)

type OllamaBackend struct {
	host   string
	model  string
	client *http.Client
}

var _ backend.Backend = (*OllamaBackend)(nil)

// NewOllamaBackend talks to a local Ollama server. The model must accept
// images for the photo operations to work.
func NewOllamaBackend(host, model string) *OllamaBackend {
	if host == "" {
		host = DefaultHost
	}
	if model == "" {
		model = DefaultModel
	}
	return &OllamaBackend{
		host:   strings.TrimRight(host, "/"),
		model:  model,
		client: &http.Client{},
	}
}

type generateRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	System string   `json:"system,omitempty"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

// generateResponse is one /api/generate reply, or one line of a streamed one.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (b *OllamaBackend) GenerateRecipe(ctx context.Context, dishName string) (string, error) {
	const op = "generate recipe"

	text, err := b.generate(ctx, op, generateRequest{Prompt: backend.RecipePrompt + dishName})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s: %w", op, backend.ErrEmptyResult)
	}
	return text, nil
}

// Chat streams the newline-delimited JSON reply of /api/generate.
func (b *OllamaBackend) Chat(ctx context.Context, message string) (<-chan backend.StreamEvent, error) {
	const op = "chat"

	resp, err := b.post(ctx, op, generateRequest{
		Prompt: message,
		System: backend.ChatSystemPrompt,
		Stream: true,
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan backend.StreamEvent, 16)

	go func() {
		defer close(ch)
		defer closeBody(resp, op)

		send := func(ev backend.StreamEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		dec := json.NewDecoder(resp.Body)
		for {
			var part generateResponse
			if err := dec.Decode(&part); err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					send(backend.StreamEvent{Err: &backend.StreamError{Op: op, Err: err}})
				}
				return
			}
			if part.Error != "" {
				send(backend.StreamEvent{Err: &backend.StreamError{Op: op, Err: errors.New(part.Error)}})
				return
			}
			if part.Response != "" && !send(backend.StreamEvent{Chunk: part.Response}) {
				return
			}
			if part.Done {
				return
			}
		}
	}()

	return ch, nil
}

func (b *OllamaBackend) ClassifyDish(ctx context.Context, r io.Reader, mimeType string) (string, error) {
	const op = "classify dish"

	encoded, err := encodeImage(r)
	if err != nil {
		return "", err
	}
	text, err := b.generate(ctx, op, generateRequest{Prompt: backend.ClassifyPrompt, Images: []string{encoded}})
	if err != nil {
		return "", err
	}
	name := backend.ParseDishName(text)
	if name == "" {
		return "", fmt.Errorf("%s: %w", op, backend.ErrEmptyResult)
	}
	return name, nil
}

func (b *OllamaBackend) DetectIngredients(ctx context.Context, r io.Reader, mimeType string) ([]domain.Prediction, error) {
	encoded, err := encodeImage(r)
	if err != nil {
		return nil, err
	}
	text, err := b.generate(ctx, "detect ingredients", generateRequest{Prompt: backend.IngredientsPrompt, Images: []string{encoded}})
	if err != nil {
		return nil, err
	}
	return backend.ParseResponse(text), nil
}

// generate runs a non-streaming request and returns the response text.
func (b *OllamaBackend) generate(ctx context.Context, op string, req generateRequest) (string, error) {
	req.Stream = false
	resp, err := b.post(ctx, op, req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp, op)

	var respBody generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return respBody.Response, nil
}

// post sends the request and returns the response only for 200 OK. Any other
// outcome is a *backend.TransportError and the body is already closed.
func (b *OllamaBackend) post(ctx context.Context, op string, body generateRequest) (*http.Response, error) {
	body.Model = b.model
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &backend.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var errBody generateResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errBody)
		closeBody(resp, op)
		msg := errBody.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &backend.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Rejected:   true,
			Err:        errors.New(msg),
		}
	}
	return resp, nil
}

func encodeImage(r io.Reader) (string, error) {
	imageData, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(imageData), nil
}

func closeBody(resp *http.Response, op string) {
	if err := resp.Body.Close(); err != nil {
		slog.Error("failed to close ollama response body", "op", op, "error", err)
	}
}
