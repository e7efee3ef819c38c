package stream

import (
	"context"
	"errors"
	"strings"

	"github.com/vbonduro/mealchat/internal/backend"
	"github.com/vbonduro/mealchat/internal/domain"
)

var ErrFinalized = errors.New("stream already finalized")

// Tail is the conversation operation the aggregator writes through.
type Tail interface {
	ReplaceTail(msg domain.ChatMessage) (domain.ChatMessage, error)
}

// Aggregator accumulates the chunks of one streaming reply. After every
// non-empty chunk it replaces the last transcript message with the text so
// far, so the turn is always shown as a single, growing bot message. The
// first replacement overwrites the turn's placeholder.
type Aggregator struct {
	tail      Tail
	acc       strings.Builder
	finalized bool
}

func NewAggregator(tail Tail) *Aggregator {
	return &Aggregator{tail: tail}
}

// Feed appends chunk and publishes the accumulated text.
func (a *Aggregator) Feed(chunk string) (string, error) {
	if a.finalized {
		return a.acc.String(), ErrFinalized
	}
	if chunk == "" {
		return a.acc.String(), nil
	}
	a.acc.WriteString(chunk)
	text := a.acc.String()
	if _, err := a.tail.ReplaceTail(domain.BotText(text)); err != nil {
		return text, err
	}
	return text, nil
}

// Text returns the text accumulated so far.
func (a *Aggregator) Text() string {
	return a.acc.String()
}

// Finalize freezes the accumulated text. Later chunks are rejected.
func (a *Aggregator) Finalize() string {
	a.finalized = true
	return a.acc.String()
}

// Consume feeds every chunk from events until the channel closes, an error
// event arrives or ctx is done. The aggregator is finalized on return and the
// accumulated text is returned alongside any failure.
func (a *Aggregator) Consume(ctx context.Context, events <-chan backend.StreamEvent) (string, error) {
	defer a.Finalize()
	for {
		select {
		case <-ctx.Done():
			return a.acc.String(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return a.acc.String(), nil
			}
			if ev.Err != nil {
				return a.acc.String(), ev.Err
			}
			if _, err := a.Feed(ev.Chunk); err != nil {
				return a.acc.String(), err
			}
		}
	}
}
