package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vbonduro/mealchat/internal/conversation"
	"github.com/vbonduro/mealchat/internal/domain"
	"github.com/vbonduro/mealchat/internal/session"
)

const maxTextBody = 64 * 1024

// sessionView is the JSON/YAML shape of a session snapshot.
type sessionView struct {
	ID        string               `json:"id" yaml:"id"`
	Mode      session.Mode         `json:"mode" yaml:"mode"`
	CreatedAt time.Time            `json:"created_at" yaml:"created_at"`
	Messages  []domain.ChatMessage `json:"messages" yaml:"messages"`
	Pending   bool                 `json:"pending" yaml:"pending"`
	Draft     string               `json:"draft" yaml:"draft"`
	Seq       uint64               `json:"seq" yaml:"seq"`
}

func newSessionView(s *Session) sessionView {
	state := s.Controller.State()
	return sessionView{
		ID:        s.ID,
		Mode:      s.Controller.Mode(),
		CreatedAt: s.CreatedAt,
		Messages:  state.Messages,
		Pending:   state.Pending,
		Draft:     state.Draft,
		Seq:       state.Seq,
	}
}

// lookupSession resolves the {id} path value or writes a 404.
func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	s.logger.Info("session created", "session_id", sess.ID, "mode", string(sess.Controller.Mode()))

	w.Header().Set("Location", "/sessions/"+sess.ID)
	writeJSON(w, http.StatusCreated, newSessionView(sess), s.logger)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	view := newSessionView(sess)
	if r.URL.Query().Get("format") == "yaml" {
		w.Header().Set("Content-Type", "application/yaml")
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(view); err != nil {
			s.logger.Error("write yaml failed", "session_id", sess.ID, "error", err)
		}
		if err := enc.Close(); err != nil {
			s.logger.Error("close yaml encoder failed", "session_id", sess.ID, "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, view, s.logger)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Delete(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.logger.Info("session deleted", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type textRequest struct {
	Text   *string `json:"text"`
	Submit bool    `json:"submit"`
}

func decodeText(w http.ResponseWriter, r *http.Request) (textRequest, error) {
	var req textRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBody))
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	return req, nil
}

// handleSubmitMessage starts a text turn and returns 202 without waiting for
// it. Progress is visible through the event stream and session snapshots.
func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	req, err := decodeText(w, r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	text := ""
	if req.Text != nil {
		text = *req.Text
	}
	if errors.Is(session.ValidateText(text), session.ErrBlankInput) {
		http.Error(w, "message text required", http.StatusBadRequest)
		return
	}

	s.goTurn(r, sess.ID, "text", func(ctx context.Context) error {
		return sess.Controller.SubmitText(ctx, text)
	})
	w.WriteHeader(http.StatusAccepted)
}

// handleDraft replaces the draft when text is given and, with submit set,
// sends the draft as a text turn.
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	req, err := decodeText(w, r)
	if err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text != nil {
		sess.Controller.SetDraft(*req.Text)
	}
	if !req.Submit {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if errors.Is(session.ValidateText(sess.Controller.State().Draft), session.ErrBlankInput) {
		http.Error(w, "draft is empty", http.StatusBadRequest)
		return
	}
	s.goTurn(r, sess.ID, "draft", sess.Controller.SubmitDraft)
	w.WriteHeader(http.StatusAccepted)
}

// handleEvents streams conversation changes as server-sent events. The
// first event is a full "state" snapshot; every later one is a "change".
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	changes, release := sess.Hub.Subscribe()
	defer release()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("failed to clear write deadline", "session_id", sess.ID, "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.pumpEvents(r.Context(), w, rc, sess.ID, newSessionView(sess), changes)
}

// pumpEvents writes the state snapshot and then every change newer than it.
// Changes made between subscribing and taking the snapshot are already in
// view, so they are skipped by sequence number.
func (s *Server) pumpEvents(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController, sessionID string, view sessionView, changes <-chan conversation.Change) {
	if err := writeEvent(w, rc, "state", view); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case c, open := <-changes:
			if !open {
				if _, err := w.Write([]byte("event: done\ndata: {}\n\n")); err == nil {
					_ = rc.Flush()
				}
				return
			}
			if c.Seq <= view.Seq {
				continue
			}
			if err := writeEvent(w, rc, "change", c); err != nil {
				s.logger.Debug("event stream closed", "session_id", sessionID, "error", err)
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

var _ session.Presenter = (*Hub)(nil)
