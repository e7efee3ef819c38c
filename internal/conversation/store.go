// Package conversation holds the ordered chat transcript of one session
// together with its in-flight request flag and draft input.
package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/mealchat/internal/domain"
)

var (
	ErrNoTail     = errors.New("conversation is empty")
	ErrTailNotBot = errors.New("only bot messages can be replaced")
)

type ChangeKind string

const (
	ChangeAppended ChangeKind = "appended"
	ChangeReplaced ChangeKind = "replaced"
	ChangePending  ChangeKind = "pending"
	ChangeDraft    ChangeKind = "draft"
)

// Change describes one mutation. Index and Message are set for appended and
// replaced messages; Pending and Draft always carry the state after the change.
// Seq numbers mutations from 1 and matches SessionState.Seq once the change
// is applied.
type Change struct {
	Seq     uint64             `json:"seq"`
	Kind    ChangeKind         `json:"kind"`
	Index   int                `json:"index"`
	Message domain.ChatMessage `json:"message"`
	Pending bool               `json:"pending"`
	Draft   string             `json:"draft"`
}

// Observer is called synchronously for every change, in mutation order.
// Observers must not call back into the Store.
type Observer func(Change)

// Store is append-only except for ReplaceTail, which swaps the last bot
// message in place. It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	messages  []domain.ChatMessage
	inflight  int
	draft     string
	seq       uint64
	observers []Observer
	now       func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Append adds msg to the end of the transcript and returns it with its ID and
// timestamp filled in.
func (s *Store) Append(msg domain.ChatMessage) domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	s.messages = append(s.messages, msg)
	s.notify(ChangeAppended, len(s.messages)-1, msg)
	return msg
}

// ReplaceTail swaps the last message for msg. Both must be bot messages. The
// replacement keeps the tail's ID and timestamp so renderers can update the
// entry in place.
func (s *Store) ReplaceTail(msg domain.ChatMessage) (domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) == 0 {
		return domain.ChatMessage{}, ErrNoTail
	}
	last := len(s.messages) - 1
	tail := s.messages[last]
	if tail.Role != domain.RoleBot || msg.Role != domain.RoleBot {
		return domain.ChatMessage{}, ErrTailNotBot
	}

	msg.ID = tail.ID
	msg.CreatedAt = tail.CreatedAt
	s.messages[last] = msg
	s.notify(ChangeReplaced, last, msg)
	return msg, nil
}

// Messages returns a copy of the transcript in display order.
func (s *Store) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyMessages()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// BeginRequest marks a backend round-trip as outstanding. Every call must be
// paired with EndRequest.
func (s *Store) BeginRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight++
	if s.inflight == 1 {
		s.notify(ChangePending, -1, domain.ChatMessage{})
	}
}

func (s *Store) EndRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == 0 {
		return
	}
	s.inflight--
	if s.inflight == 0 {
		s.notify(ChangePending, -1, domain.ChatMessage{})
	}
}

// Pending reports whether any backend round-trip is outstanding.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}

func (s *Store) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draft == text {
		return
	}
	s.draft = text
	s.notify(ChangeDraft, -1, domain.ChatMessage{})
}

func (s *Store) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// State returns a consistent snapshot of the whole session.
func (s *Store) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionState{
		Messages: s.copyMessages(),
		Pending:  s.inflight > 0,
		Draft:    s.draft,
		Seq:      s.seq,
	}
}

func (s *Store) copyMessages() []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) notify(kind ChangeKind, index int, msg domain.ChatMessage) {
	s.seq++
	if len(s.observers) == 0 {
		return
	}
	c := Change{
		Seq:     s.seq,
		Kind:    kind,
		Index:   index,
		Message: msg,
		Pending: s.inflight > 0,
		Draft:   s.draft,
	}
	for _, o := range s.observers {
		o(c)
	}
}
