package web

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/vbonduro/mealchat/internal/imagestore"
)

const maxImageSize = 20 * 1024 * 1024 // 20 MB

// readImageForm reads and sniffs the "image" field of a multipart upload.
// On failure it has already written the error response.
func (s *Server) readImageForm(w http.ResponseWriter, r *http.Request, sessionID string) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize+1024*1024)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return nil, "", false
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image file required", http.StatusBadRequest)
		return nil, "", false
	}
	defer closeWithLog(file, "upload file", s.logger)

	imageData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		s.logger.Error("read upload failed", "session_id", sessionID, "error", err)
		return nil, "", false
	}

	mimeType, ok := imagestore.DetectMIME(imageData)
	if !ok {
		http.Error(w, "unsupported image format", http.StatusBadRequest)
		return nil, "", false
	}
	return imageData, mimeType, true
}

func (s *Server) handleUploadDish(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	data, mimeType, ok := s.readImageForm(w, r, sess.ID)
	if !ok {
		return
	}

	s.goTurn(r, sess.ID, "dish image", func(ctx context.Context) error {
		return sess.Controller.UploadDishImage(ctx, data, mimeType)
	})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUploadIngredients(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	data, mimeType, ok := s.readImageForm(w, r, sess.ID)
	if !ok {
		return
	}

	s.goTurn(r, sess.ID, "ingredient image", func(ctx context.Context) error {
		return sess.Controller.UploadIngredientImage(ctx, data, mimeType)
	})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		http.NotFound(w, r)
		return
	}
	key := r.PathValue("key")

	reader, mimeType, err := s.images.Get(r.Context(), key)
	if err != nil {
		if !errors.Is(err, imagestore.ErrNotFound) {
			s.logger.Warn("get image failed", "storage_key", key, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	defer closeWithLog(reader, "image reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write image failed", "storage_key", key, "error", err)
	}
}
