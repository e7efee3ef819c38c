package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vbonduro/mealchat/internal/auth"
	"github.com/vbonduro/mealchat/internal/backend"
	"github.com/vbonduro/mealchat/internal/conversation"
	"github.com/vbonduro/mealchat/internal/db"
	"github.com/vbonduro/mealchat/internal/domain"
	"github.com/vbonduro/mealchat/internal/imagestore/local"
	"github.com/vbonduro/mealchat/internal/session"
	"github.com/vbonduro/mealchat/internal/store"
)

const pizzaRecipe = "Margherita Pizza<TITLE_END>pizza<INPUT_END>dough\ntomato<INGR_END>stretch the dough\nbake<INSTR_END>"

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

// stubBackend answers every call from fixed fields.
type stubBackend struct {
	mu sync.Mutex

	recipe      string
	chunks      []string
	dish        string
	predictions []domain.Prediction
	err         error
	calls       int
}

func (s *stubBackend) GenerateRecipe(_ context.Context, _ string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.recipe, s.err
}

func (s *stubBackend) Chat(_ context.Context, _ string) (<-chan backend.StreamEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan backend.StreamEvent, len(s.chunks))
	for _, c := range s.chunks {
		ch <- backend.StreamEvent{Chunk: c}
	}
	close(ch)
	return ch, nil
}

func (s *stubBackend) ClassifyDish(_ context.Context, _ io.Reader, _ string) (string, error) {
	return s.dish, s.err
}

func (s *stubBackend) DetectIngredients(_ context.Context, _ io.Reader, _ string) ([]domain.Prediction, error) {
	return s.predictions, s.err
}

func (s *stubBackend) generateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testEnv struct {
	srv      *httptest.Server
	server   *Server
	sessions *SessionRegistry
}

// newTestServer wires a Server over a temporary SQLite catalog and image
// directory. opts are applied to every session controller.
func newTestServer(t *testing.T, b *stubBackend, checker auth.Checker, opts ...session.Option) *testEnv {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	recipes := store.NewRecipeStore(database)

	images, err := local.NewLocalImageStore(t.TempDir())
	require.NoError(t, err)

	logger := discardLogger()
	factory := func(_ string, extra ...session.Option) *session.Controller {
		all := []session.Option{
			session.WithPacing(0),
			session.WithCatalog(recipes),
			session.WithImageStore(images),
		}
		all = append(all, opts...)
		return session.New(b, logger, append(all, extra...)...)
	}
	sessions := NewSessionRegistry(time.Hour, factory)
	server := NewServer(sessions, images, recipes, checker, logger)
	srv := httptest.NewServer(server)

	t.Cleanup(func() {
		srv.Close()
		server.Wait()
		sessions.Close()
		_ = database.Close()
	})
	return &testEnv{srv: srv, server: server, sessions: sessions}
}

func (e *testEnv) createSession(t *testing.T) sessionView {
	t.Helper()
	resp, err := http.Post(e.srv.URL+"/sessions", "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var v sessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, "/sessions/"+v.ID, resp.Header.Get("Location"))
	return v
}

func (e *testEnv) getSession(t *testing.T, id string) sessionView {
	t.Helper()
	resp, err := http.Get(e.srv.URL + "/sessions/" + id)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v sessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// waitForMessages polls until the session holds n messages and is idle.
func (e *testEnv) waitForMessages(t *testing.T, id string, n int) sessionView {
	t.Helper()
	var v sessionView
	require.Eventually(t, func() bool {
		v = e.getSession(t, id)
		return len(v.Messages) == n && !v.Pending
	}, 3*time.Second, 10*time.Millisecond)
	return v
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func postImage(t *testing.T, url, field string, data []byte) *http.Response {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile(field, "photo.jpg")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(url, w.FormDataContentType(), body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestServer(t, &stubBackend{}, nil)
	env.createSession(t)

	resp, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Sessions)
}

func TestCreateSession_StartsEmpty(t *testing.T) {
	env := newTestServer(t, &stubBackend{}, nil)

	v := env.createSession(t)

	assert.Equal(t, session.ModeRecipe, v.Mode)
	assert.Empty(t, v.Messages)
	assert.False(t, v.Pending)
	assert.Empty(t, v.Draft)
}

func TestSubmitMessage_RecipeTurn(t *testing.T) {
	b := &stubBackend{recipe: pizzaRecipe}
	env := newTestServer(t, b, nil)
	id := env.createSession(t).ID

	resp := postJSON(t, env.srv.URL+"/sessions/"+id+"/messages", `{"text":"pizza"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	v := env.waitForMessages(t, id, 3)
	assert.Equal(t, domain.RoleUser, v.Messages[0].Role)
	assert.Equal(t, "pizza", v.Messages[0].Text)
	assert.Equal(t, session.PlaceholderMessage, v.Messages[1].Text)
	require.NotNil(t, v.Messages[2].Recipe)
	assert.Equal(t, "Margherita Pizza", v.Messages[2].Recipe.Title)
	assert.Equal(t, []string{"dough", "tomato"}, v.Messages[2].Recipe.IngredientLines)
}

func TestSubmitMessage_SecondAskServedFromCatalog(t *testing.T) {
	b := &stubBackend{recipe: pizzaRecipe}
	env := newTestServer(t, b, nil)
	id := env.createSession(t).ID

	postJSON(t, env.srv.URL+"/sessions/"+id+"/messages", `{"text":"Pizza"}`)
	env.waitForMessages(t, id, 3)
	postJSON(t, env.srv.URL+"/sessions/"+id+"/messages", `{"text":"pizza"}`)
	v := env.waitForMessages(t, id, 6)

	assert.Equal(t, 1, b.generateCalls())
	assert.Equal(t, "Margherita Pizza", v.Messages[5].Recipe.Title)
}

func TestSubmitMessage_ChatStream(t *testing.T) {
	b := &stubBackend{chunks: []string{"Hel", "lo ", "there"}}
	env := newTestServer(t, b, nil, session.WithMode(session.ModeChat))
	id := env.createSession(t).ID

	resp := postJSON(t, env.srv.URL+"/sessions/"+id+"/messages", `{"text":"hi"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	v := env.waitForMessages(t, id, 2)
	assert.Equal(t, session.ModeChat, v.Mode)
	assert.Equal(t, "Hello there", v.Messages[1].Text)
}

func TestSubmitMessage_BackendFailureBecomesMessage(t *testing.T) {
	b := &stubBackend{err: &backend.TransportError{Op: "generate recipe", StatusCode: 500, Rejected: true}}
	env := newTestServer(t, b, nil)
	id := env.createSession(t).ID

	postJSON(t, env.srv.URL+"/sessions/"+id+"/messages", `{"text":"pizza"}`)

	v := env.waitForMessages(t, id, 3)
	assert.Equal(t, session.RecipeErrorMessage, v.Messages[2].Text)
}

func TestSubmitMessage_BadRequests(t *testing.T) {
	env := newTestServer(t, &stubBackend{}, nil)
	id := env.createSession(t).ID

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"blank text", "/sessions/" + id + "/messages", `{"text":"   "}`, http.StatusBadRequest},
		{"missing text", "/sessions/" + id + "/messages", `{}`, http.StatusBadRequest},
		{"invalid json", "/sessions/" + id + "/messages", `{"text":`, http.StatusBadRequest},
		{"unknown session", "/sessions/nope/messages", `{"text":"pizza"}`, http.StatusNotFound},
		{"submit empty draft", "/sessions/" + id + "/draft", `{"submit":true}`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, env.srv.URL+tc.path, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
	assert.Empty(t, env.getSession(t, id).Messages)
}

func TestDraft_SetThenSubmit(t *testing.T) {
	b := &stubBackend{recipe: pizzaRecipe}
	env := newTestServer(t, b, nil)
	id := env.createSession(t).ID

	resp := postJSON(t, env.srv.URL+"/sessions/"+id+"/draft", `{"text":"tomato, basil"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "tomato, basil", env.getSession(t, id).Draft)

	resp = postJSON(t, env.srv.URL+"/sessions/"+id+"/draft", `{"submit":true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	v := env.waitForMessages(t, id, 3)
	assert.Equal(t, "tomato, basil", v.Messages[0].Text)
	assert.Empty(t, v.Draft)
}

func TestUploadDish_ClassifiesAndAnswers(t *testing.T) {
	b := &stubBackend{dish: "pizza", recipe: pizzaRecipe}
	env := newTestServer(t, b, nil)
	id := env.createSession(t).ID

	resp := postImage(t, env.srv.URL+"/sessions/"+id+"/images/dish", "image", minimalJPEG)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	v := env.waitForMessages(t, id, 4)
	require.NotNil(t, v.Messages[0].Image)
	assert.Equal(t, "image/jpeg", v.Messages[0].Image.MimeType)
	assert.Equal(t, "Ohhh! I see you sent me a picture of pizza", v.Messages[1].Text)
	assert.Equal(t, session.PlaceholderMessage, v.Messages[2].Text)
	assert.Equal(t, "Margherita Pizza", v.Messages[3].Recipe.Title)

	key := v.Messages[0].Image.StorageKey
	require.NotEmpty(t, key)
	img, err := http.Get(env.srv.URL + "/images/" + key)
	require.NoError(t, err)
	defer func() { _ = img.Body.Close() }()
	assert.Equal(t, http.StatusOK, img.StatusCode)
	assert.Equal(t, "image/jpeg", img.Header.Get("Content-Type"))
	got, err := io.ReadAll(img.Body)
	require.NoError(t, err)
	assert.Equal(t, minimalJPEG, got)
}

func TestUploadIngredients_FillsDraft(t *testing.T) {
	b := &stubBackend{predictions: []domain.Prediction{{Label: "tomato"}, {Label: "onion"}}}
	env := newTestServer(t, b, nil)
	id := env.createSession(t).ID

	resp := postImage(t, env.srv.URL+"/sessions/"+id+"/images/ingredients", "image", minimalJPEG)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	v := env.waitForMessages(t, id, 2)
	assert.Equal(t, "tomato, onion", v.Draft)
	assert.Equal(t, "I found the following ingredient(s): tomato, onion", v.Messages[1].Text)
}

func TestUpload_Rejections(t *testing.T) {
	env := newTestServer(t, &stubBackend{}, nil)
	id := env.createSession(t).ID

	tests := []struct {
		name   string
		path   string
		field  string
		data   []byte
		status int
	}{
		{"not an image", "/sessions/" + id + "/images/dish", "image", []byte("plain text, not a picture"), http.StatusBadRequest},
		{"wrong field", "/sessions/" + id + "/images/dish", "photo", minimalJPEG, http.StatusBadRequest},
		{"unknown session", "/sessions/nope/images/ingredients", "image", minimalJPEG, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := postImage(t, env.srv.URL+tc.path, tc.field, tc.data)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestGetImage_NotFound(t *testing.T) {
	env := newTestServer(t, &stubBackend{}, nil)

	for _, key := range []string{"dish_0000000000000000.jpg", "..%2Fsecret"} {
		resp, err := http.Get(env.srv.URL + "/images/" + key)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, key)
	}
}

func TestGetSession_YAML(t *testing.T) {
	env := newTestServer(t, &stubBackend{}, nil)
	id := env.createSession(t).ID
	postJSON(t, env.srv.URL+"/sessions/"+id+"/draft", `{"text":"eggs"}`)

	resp, err := http.Get(env.srv.URL + "/sessions/" + id + "?format=yaml")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, yaml.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, id, doc["id"])
	assert.Equal(t, "eggs", doc["draft"])
	assert.Equal(t, "recipe", doc["mode"])
}

func TestDeleteSession(t *testing.T) {
	env := newTestServer(t, &stubBackend{}, nil)
	id := env.createSession(t).ID

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, env.srv.URL+"/sessions/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, del())
	assert.Equal(t, http.StatusNotFound, del())

	resp, err := http.Get(env.srv.URL + "/sessions/" + id)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRecipes(t *testing.T) {
	b := &stubBackend{recipe: pizzaRecipe}
	env := newTestServer(t, b, nil)
	id := env.createSession(t).ID
	postJSON(t, env.srv.URL+"/sessions/"+id+"/messages", `{"text":"pizza"}`)
	env.waitForMessages(t, id, 3)

	list := func(query string) []catalogEntry {
		resp, err := http.Get(env.srv.URL + "/recipes" + query)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var entries []catalogEntry
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
		return entries
	}

	all := list("")
	require.Len(t, all, 1)
	assert.Equal(t, "pizza", all[0].DishKey)
	assert.Equal(t, "Margherita Pizza", all[0].Recipe.Title)
	assert.Equal(t, []string{"stretch the dough", "bake"}, all[0].Recipe.InstructionLines)

	assert.Len(t, list("?q=marg"), 1)
	assert.Empty(t, list("?q=sushi"))
}

func TestBasicAuth(t *testing.T) {
	hash, err := auth.HashPassword("secret")
	require.NoError(t, err)
	env := newTestServer(t, &stubBackend{}, auth.NewStaticChecker("cook@example.com", hash))

	do := func(email, password string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/sessions", nil)
		require.NoError(t, err)
		if email != "" {
			req.SetBasicAuth(email, password)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp
	}

	resp := do("", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	assert.Equal(t, http.StatusUnauthorized, do("cook@example.com", "wrong").StatusCode)
	assert.Equal(t, http.StatusCreated, do("cook@example.com", "secret").StatusCode)

	health, err := http.Get(env.srv.URL + "/healthz")
	require.NoError(t, err)
	_ = health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

type sseEvent struct {
	name string
	data string
}

// readEvents parses a server-sent event stream until it ends.
func readEvents(body io.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 64)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var name string
		for sc.Scan() {
			line := sc.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				out <- sseEvent{name: name, data: strings.TrimPrefix(line, "data: ")}
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream ended")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}
	}
}

func TestEvents_StreamsChangesUntilSessionEnds(t *testing.T) {
	b := &stubBackend{recipe: pizzaRecipe}
	env := newTestServer(t, b, nil)
	id := env.createSession(t).ID

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(resp.Body)
	first := nextEvent(t, events)
	require.Equal(t, "state", first.name)
	var snapshot sessionView
	require.NoError(t, json.Unmarshal([]byte(first.data), &snapshot))
	assert.Equal(t, id, snapshot.ID)

	postJSON(t, env.srv.URL+"/sessions/"+id+"/messages", `{"text":"pizza"}`)

	var kinds []conversation.ChangeKind
	for {
		ev := nextEvent(t, events)
		require.Equal(t, "change", ev.name)
		var c conversation.Change
		require.NoError(t, json.Unmarshal([]byte(ev.data), &c))
		kinds = append(kinds, c.Kind)
		if c.Kind == conversation.ChangePending && !c.Pending {
			break
		}
	}
	assert.Equal(t, []conversation.ChangeKind{
		conversation.ChangeAppended, // user message
		conversation.ChangePending,
		conversation.ChangeAppended, // placeholder
		conversation.ChangeAppended, // recipe
		conversation.ChangePending,
	}, kinds)

	env.sessions.Delete(id)
	assert.Equal(t, "done", nextEvent(t, events).name)
}

func TestEvents_SkipsChangesAlreadyInSnapshot(t *testing.T) {
	env := newTestServer(t, &stubBackend{}, nil)
	sess := env.sessions.Create()

	changes, release := sess.Hub.Subscribe()
	defer release()

	sess.Controller.SetDraft("tomato")
	view := newSessionView(sess)
	sess.Controller.SetDraft("tomato, basil")
	sess.Hub.Close()

	w := httptest.NewRecorder()
	env.server.pumpEvents(context.Background(), w, http.NewResponseController(w), sess.ID, view, changes)

	events := readEvents(w.Body)
	first := nextEvent(t, events)
	require.Equal(t, "state", first.name)
	var snapshot sessionView
	require.NoError(t, json.Unmarshal([]byte(first.data), &snapshot))
	assert.Equal(t, "tomato", snapshot.Draft)
	assert.Equal(t, uint64(1), snapshot.Seq)

	second := nextEvent(t, events)
	require.Equal(t, "change", second.name)
	var c conversation.Change
	require.NoError(t, json.Unmarshal([]byte(second.data), &c))
	assert.Equal(t, uint64(2), c.Seq)
	assert.Equal(t, "tomato, basil", c.Draft)

	assert.Equal(t, "done", nextEvent(t, events).name)
}
