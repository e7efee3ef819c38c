package web

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/vbonduro/mealchat/internal/session"
)

// ControllerFactory builds the controller for a new session. The options
// include the session's event hub as presenter.
type ControllerFactory func(id string, opts ...session.Option) *session.Controller

// Session is one live chat session.
type Session struct {
	ID         string
	Controller *session.Controller
	Hub        *Hub
	CreatedAt  time.Time
}

// SessionRegistry keeps live sessions in memory and drops them after ttl
// without access. A dropped session's event streams are closed.
type SessionRegistry struct {
	cache   *cache.Cache
	factory ControllerFactory
}

func NewSessionRegistry(ttl time.Duration, factory ControllerFactory) *SessionRegistry {
	c := cache.New(ttl, ttl/2)
	c.OnEvicted(func(_ string, v any) {
		if s, ok := v.(*Session); ok {
			s.Hub.Close()
		}
	})
	return &SessionRegistry{cache: c, factory: factory}
}

func (r *SessionRegistry) Create() *Session {
	id := uuid.NewString()
	hub := NewHub()
	s := &Session{
		ID:         id,
		Controller: r.factory(id, session.WithPresenter(hub)),
		Hub:        hub,
		CreatedAt:  time.Now(),
	}
	r.cache.SetDefault(id, s)
	return s
}

// Get returns the session and restarts its idle timer.
func (r *SessionRegistry) Get(id string) (*Session, bool) {
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, false
	}
	s := v.(*Session)
	r.cache.SetDefault(id, s)
	return s, true
}

func (r *SessionRegistry) Delete(id string) bool {
	if _, ok := r.cache.Get(id); !ok {
		return false
	}
	r.cache.Delete(id)
	return true
}

func (r *SessionRegistry) Len() int {
	return r.cache.ItemCount()
}

// Close ends every session's event streams.
func (r *SessionRegistry) Close() {
	for _, item := range r.cache.Items() {
		if s, ok := item.Object.(*Session); ok {
			s.Hub.Close()
		}
	}
}
