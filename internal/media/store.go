// Package media stores chat attachments on local disk.
package media

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"marketplace-chat/backend/internal/models"
	"marketplace-chat/backend/pkg/config"
	"marketplace-chat/backend/pkg/errors"
	"marketplace-chat/backend/pkg/logger"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Store writes uploads under Dir and serves them from BaseURL
type Store struct {
	dir     string
	baseURL string
	maxSize int64
	log     *logger.Logger
}

// NewStore creates the upload directory if needed
func NewStore(dir, baseURL string, maxSize int64, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		maxSize: maxSize,
		log:     log,
	}, nil
}

// NewStoreFromConfig reads the Chat upload settings
func NewStoreFromConfig(cfg *config.Config, log *logger.Logger) (*Store, error) {
	return NewStore(cfg.Chat.UploadDir, cfg.Chat.MediaBaseURL, cfg.Chat.MaxUploadSize, log)
}

// Dir returns the directory files are written to
func (s *Store) Dir() string { return s.dir }

func allowed(mime string) bool {
	switch {
	case strings.HasPrefix(mime, "image/"),
		strings.HasPrefix(mime, "video/"),
		strings.HasPrefix(mime, "audio/"),
		mime == "application/pdf":
		return true
	}
	return false
}

// Save sniffs the content type of r, rejects anything that is not an image,
// video, audio clip or PDF, and writes it under a fresh name.
func (s *Store) Save(ctx context.Context, r io.Reader) (*models.Media, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, errors.NewValidationError("Could not read upload")
	}
	if len(data) == 0 {
		return nil, errors.NewValidationError("Upload is empty")
	}
	if int64(len(data)) > s.maxSize {
		return nil, errors.NewError(http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "Upload exceeds the size limit").
			WithDetails(map[string]any{"maxBytes": s.maxSize})
	}

	mt := mimetype.Detect(data)
	base := strings.SplitN(mt.String(), ";", 2)[0]
	if !allowed(base) {
		return nil, errors.NewValidationError("Unsupported media type").
			WithDetails(map[string]any{"mediaType": base})
	}

	name := uuid.NewString() + mt.Extension()
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		logger.FromContext(ctx).LogError(err, "Failed to write upload", "file", name)
		return nil, errors.NewTransientError("Could not store upload", err)
	}

	s.log.Debug("Stored upload", "file", name, "media_type", base, "bytes", len(data))
	return &models.Media{URL: s.baseURL + "/" + name, Type: base}, nil
}

// Open returns a stored file by the name embedded in its URL
func (s *Store) Open(name string) (io.ReadCloser, error) {
	if name != filepath.Base(name) {
		return nil, errors.NewValidationError("Invalid file name")
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil, errors.NewNotFoundError(errors.CodeNotFound, "File not found")
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Remove deletes a file written by Save. Used when the message that would
// have referenced it could not be stored.
func (s *Store) Remove(m *models.Media) error {
	if m == nil {
		return nil
	}
	name := strings.TrimPrefix(m.URL, s.baseURL+"/")
	if name == m.URL || name != filepath.Base(name) {
		return errors.NewValidationError("Invalid file name")
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.log.Debug("Removed upload", "file", name)
	return nil
}

// SaveBytes is Save for in-memory payloads
func (s *Store) SaveBytes(ctx context.Context, data []byte) (*models.Media, error) {
	return s.Save(ctx, bytes.NewReader(data))
}
