package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vbonduro/mealchat/internal/domain"
	"github.com/vbonduro/mealchat/internal/imagestore"
	"github.com/vbonduro/mealchat/internal/session"
)

const prompt = "> "

const helpText = `Type a dish name or a question and press enter.
  /dish <path>         send a photo of a dish
  /ingredients <path>  send a photo of ingredients
  /draft               show the current draft
  /help                show this help
  /quit                leave
An empty line sends the current draft.`

var errUnsupportedImage = errors.New("unsupported image format")

// chatSession is the subset of session.Controller that the REPL drives.
type chatSession interface {
	SubmitText(ctx context.Context, text string) error
	SubmitDraft(ctx context.Context) error
	UploadDishImage(ctx context.Context, data []byte, mimeType string) error
	UploadIngredientImage(ctx context.Context, data []byte, mimeType string) error
	State() domain.SessionState
}

// REPL reads commands line by line and runs each turn to completion before
// prompting again.
type REPL struct {
	session  chatSession
	renderer *Renderer
	in       io.Reader
	out      io.Writer
}

func NewREPL(s chatSession, renderer *Renderer, in io.Reader, out io.Writer) *REPL {
	return &REPL{session: s, renderer: renderer, in: in, out: out}
}

// Run returns nil on /quit, end of input or when ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, helpText)

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(r.out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		quit, err := r.handle(ctx, scanner.Text())
		if r.renderer != nil {
			r.renderer.Finish()
		}
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (r *REPL) handle(ctx context.Context, line string) (bool, error) {
	trimmed := strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(trimmed, " ")
	arg = strings.TrimSpace(arg)

	switch {
	case trimmed == "":
		if r.session.State().Draft == "" {
			return false, nil
		}
		return false, r.session.SubmitDraft(ctx)
	case cmd == "/quit" || cmd == "/exit":
		return true, nil
	case cmd == "/help":
		fmt.Fprintln(r.out, helpText)
		return false, nil
	case cmd == "/draft":
		fmt.Fprintf(r.out, "draft: %q\n", r.session.State().Draft)
		return false, nil
	case cmd == "/dish":
		data, mimeType, err := readImage(arg)
		if err != nil {
			return false, err
		}
		return false, r.session.UploadDishImage(ctx, data, mimeType)
	case cmd == "/ingredients":
		data, mimeType, err := readImage(arg)
		if err != nil {
			return false, err
		}
		return false, r.session.UploadIngredientImage(ctx, data, mimeType)
	case strings.HasPrefix(cmd, "/"):
		return false, fmt.Errorf("unknown command %s, try /help", cmd)
	default:
		return false, r.session.SubmitText(ctx, line)
	}
}

func readImage(path string) ([]byte, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("image path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	mimeType, ok := imagestore.DetectMIME(data)
	if !ok {
		return nil, "", errUnsupportedImage
	}
	return data, mimeType, nil
}

var _ chatSession = (*session.Controller)(nil)
