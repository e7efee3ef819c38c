package flask

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"unicode/utf8"

	"github.com/vbonduro/mealchat/internal/backend"
	"github.com/vbonduro/mealchat/internal/domain"
)

const DefaultBaseURL = "http://localhost:5000"

// chunkSize bounds a single read from the chat stream. Each read becomes at
// most one StreamEvent.
const chunkSize = 4096

type FlaskBackend struct {
	baseURL string
	client  *http.Client
}

var _ backend.Backend = (*FlaskBackend)(nil)

func NewFlaskBackend(baseURL string) *FlaskBackend {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &FlaskBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (b *FlaskBackend) GenerateRecipe(ctx context.Context, dishName string) (string, error) {
	const op = "generate recipe"

	payload, err := json.Marshal(map[string]string{"dishName": dishName})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := b.post(ctx, op, "/generate_recipe", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer closeBody(resp, op)

	var respBody struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if strings.TrimSpace(respBody.GeneratedText) == "" {
		return "", fmt.Errorf("%s: %w", op, backend.ErrEmptyResult)
	}
	return respBody.GeneratedText, nil
}

// Chat posts the message and streams the plain-text reply body. Chunks are
// cut on UTF-8 boundaries so a multi-byte character is never split across
// two events.
func (b *FlaskBackend) Chat(ctx context.Context, message string) (<-chan backend.StreamEvent, error) {
	const op = "chat"

	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := b.post(ctx, op, "/chat", "application/json", bytes.NewReader(payload))
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

		buf := make([]byte, chunkSize)
		var carry []byte
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				carry = append(carry, buf[:n]...)
				if cut := completePrefix(carry); cut > 0 {
					if !send(backend.StreamEvent{Chunk: string(carry[:cut])}) {
						return
					}
					carry = append([]byte(nil), carry[cut:]...)
				}
			}
			if errors.Is(err, io.EOF) {
				if len(carry) > 0 {
					send(backend.StreamEvent{Chunk: string(carry)})
				}
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					send(backend.StreamEvent{Err: &backend.StreamError{Op: op, Err: err}})
				}
				return
			}
		}
	}()

	return ch, nil
}

func (b *FlaskBackend) ClassifyDish(ctx context.Context, r io.Reader, mimeType string) (string, error) {
	const op = "classify dish"

	body, contentType, err := imageForm(r, mimeType)
	if err != nil {
		return "", err
	}

	resp, err := b.post(ctx, op, "/classify", contentType, body)
	if err != nil {
		return "", err
	}
	defer closeBody(resp, op)

	// A local catalog hit on the server side answers with a formatted recipe
	// instead of JSON; its first line names the dish.
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if name := dishNameFromText(resp.Body); name != "" {
			return name, nil
		}
		return "", fmt.Errorf("%s: %w", op, backend.ErrEmptyResult)
	}

	var respBody struct {
		DishName   string  `json:"dishName"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	name := strings.TrimSpace(respBody.DishName)
	if name == "" {
		return "", fmt.Errorf("%s: %w", op, backend.ErrEmptyResult)
	}
	return name, nil
}

func (b *FlaskBackend) DetectIngredients(ctx context.Context, r io.Reader, mimeType string) ([]domain.Prediction, error) {
	const op = "detect ingredients"

	body, contentType, err := imageForm(r, mimeType)
	if err != nil {
		return nil, err
	}

	resp, err := b.post(ctx, op, "/detect_ingredients", contentType, body)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp, op)

	var respBody struct {
		Ingredients json.RawMessage `json:"ingredients"`
		Predictions []prediction    `json:"predictions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respBody.Predictions) > 0 {
		return toPredictions(respBody.Predictions), nil
	}
	return parseIngredients(respBody.Ingredients)
}

// prediction accepts both the detector's "class" field and a plain "label".
type prediction struct {
	Class      string  `json:"class"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

func toPredictions(in []prediction) []domain.Prediction {
	out := make([]domain.Prediction, 0, len(in))
	for _, p := range in {
		label := p.Class
		if label == "" {
			label = p.Label
		}
		out = append(out, domain.Prediction{Label: label, Confidence: p.Confidence})
	}
	return out
}

// parseIngredients decodes either {"predictions": [...]} or a bare list of
// label strings.
func parseIngredients(raw json.RawMessage) ([]domain.Prediction, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []domain.Prediction{}, nil
	}

	if raw[0] == '[' {
		var labels []string
		if err := json.Unmarshal(raw, &labels); err != nil {
			return nil, fmt.Errorf("failed to decode ingredient labels: %w", err)
		}
		out := make([]domain.Prediction, 0, len(labels))
		for _, l := range labels {
			out = append(out, domain.Prediction{Label: l})
		}
		return out, nil
	}

	var nested struct {
		Predictions []prediction `json:"predictions"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("failed to decode ingredient predictions: %w", err)
	}
	return toPredictions(nested.Predictions), nil
}

// post sends the request and returns the response only for 200 OK. Any other
// outcome is a *backend.TransportError and the body is already closed.
func (b *FlaskBackend) post(ctx context.Context, op, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &backend.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		closeBody(resp, op)
		return nil, &backend.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Rejected:   true,
			Err:        errors.New(strings.TrimSpace(string(errBody))),
		}
	}
	return resp, nil
}

// imageForm wraps the image in a multipart form under the "image" field.
func imageForm(r io.Reader, mimeType string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="upload%s"`, mimeTypeToExt(mimeType)))
	h.Set("Content-Type", mimeType)
	fw, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return body, w.FormDataContentType(), nil
}

func dishNameFromText(r io.Reader) string {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if name, ok := strings.CutPrefix(line, "Dish Name:"); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

// completePrefix returns the length of the longest prefix of b that does not
// end inside a multi-byte UTF-8 sequence.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}

func mimeTypeToExt(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func closeBody(resp *http.Response, op string) {
	if err := resp.Body.Close(); err != nil {
		slog.Error("failed to close backend response body", "op", op, "error", err)
	}
}
