package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/vbonduro/mealchat/internal/conversation"
	"github.com/vbonduro/mealchat/internal/domain"
)

type styles struct {
	user    lipgloss.Style
	bot     lipgloss.Style
	label   lipgloss.Style
	hint    lipgloss.Style
	card    lipgloss.Style
	title   lipgloss.Style
	heading lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		user:    r.NewStyle().Foreground(lipgloss.Color("12")),
		bot:     r.NewStyle().Foreground(lipgloss.Color("10")),
		label:   r.NewStyle().Bold(true),
		hint:    r.NewStyle().Faint(true).Italic(true),
		card:    r.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		title:   r.NewStyle().Bold(true).Underline(true),
		heading: r.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
	}
}

// Renderer prints conversation changes to a terminal. Streaming replies are
// written incrementally: a replacement that extends the text on the current
// line only prints the new suffix.
type Renderer struct {
	mu     sync.Mutex
	w      io.Writer
	styles styles

	index int
	text  string
	open  bool
}

func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{
		w:      w,
		styles: newStyles(lipgloss.NewRenderer(w)),
		index:  -1,
	}
}

func (r *Renderer) Present(c conversation.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch c.Kind {
	case conversation.ChangeAppended:
		r.closeLine()
		r.printMessage(c.Message)
		r.index, r.text = c.Index, c.Message.Text
	case conversation.ChangeReplaced:
		if c.Index == r.index && r.open && strings.HasPrefix(c.Message.Text, r.text) && r.text != "" && c.Message.Kind == domain.ContentText {
			fmt.Fprint(r.w, r.styles.bot.Render(c.Message.Text[len(r.text):]))
		} else {
			r.closeLine()
			r.printMessage(c.Message)
		}
		r.index, r.text = c.Index, c.Message.Text
	case conversation.ChangeDraft:
		if c.Draft != "" {
			r.closeLine()
			fmt.Fprintln(r.w, r.styles.hint.Render("draft: "+c.Draft+"  (press enter to send)"))
		}
	}
}

// Finish ends any line left open by a streaming reply.
func (r *Renderer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLine()
}

func (r *Renderer) closeLine() {
	if r.open {
		fmt.Fprintln(r.w)
		r.open = false
	}
}

func (r *Renderer) printMessage(m domain.ChatMessage) {
	switch m.Kind {
	case domain.ContentRecipe:
		fmt.Fprintln(r.w, r.styles.label.Render("bot ›"))
		fmt.Fprintln(r.w, r.renderRecipe(m.Recipe))
	case domain.ContentImage:
		desc := fmt.Sprintf("[image %s, %d bytes]", m.Image.MimeType, m.Image.Bytes)
		fmt.Fprintln(r.w, r.styles.label.Render("you ›")+" "+r.styles.user.Render(desc))
	default:
		if m.Role == domain.RoleUser {
			fmt.Fprintln(r.w, r.styles.label.Render("you ›")+" "+r.styles.user.Render(m.Text))
			return
		}
		// Bot text stays on an open line so a stream can extend it.
		fmt.Fprint(r.w, r.styles.label.Render("bot ›")+" "+r.styles.bot.Render(m.Text))
		r.open = true
	}
}

func (r *Renderer) renderRecipe(rec *domain.StructuredRecipe) string {
	var b strings.Builder
	b.WriteString(r.styles.title.Render(rec.Title))
	b.WriteString("\n\n")
	b.WriteString(r.styles.heading.Render("Input"))
	b.WriteString("\n")
	writeLines(&b, rec.InputLines, "  ")
	b.WriteString(r.styles.heading.Render("Ingredients"))
	b.WriteString("\n")
	writeLines(&b, rec.IngredientLines, "  • ")
	b.WriteString(r.styles.heading.Render("Instructions"))
	b.WriteString("\n")
	writeLines(&b, rec.InstructionLines, "  ")
	return r.styles.card.Render(strings.TrimSuffix(b.String(), "\n"))
}

func writeLines(b *strings.Builder, lines []string, prefix string) {
	for _, line := range lines {
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteString("\n")
	}
}
