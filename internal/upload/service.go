// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package upload

import (
	"context"
	"encoding/hex"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/ottodev/internal/util"
)

// maxNameRunes bounds the stored original file name.
const maxNameRunes = 255

// Record describes a stored upload.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`        // sanitized original name
	StoredName  string    `json:"stored_name"` // file name on disk
	Size        int64     `json:"size"`
	Digest      string    `json:"digest"` // hex BLAKE2b-256
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Config configures the upload service.
type Config struct {
	// Dir holds the files/ directory and uploads.db
	Dir string

	// MaxBytes is the largest accepted upload
	MaxBytes int64

	// AllowedExtensions lists accepted extensions with leading dot; empty accepts all
	AllowedExtensions []string
}

// Service validates, stores and records uploads. It is safe for concurrent use.
type Service struct {
	cfg      Config
	allowed  map[string]bool
	filesDir string
	reg      *registry
	log      zerolog.Logger
	now      func() time.Time

	closeOnce sync.Once
}

// Open creates the upload directories and opens the registry.
func Open(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.Dir == "" {
		return nil, errors.New("upload dir is required")
	}
	if cfg.MaxBytes <= 0 {
		return nil, errors.Errorf("upload max bytes must be positive, got %d", cfg.MaxBytes)
	}

	filesDir := filepath.Join(cfg.Dir, "files")
	if err := os.MkdirAll(filesDir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create upload directory")
	}

	reg, err := openRegistry(filepath.Join(cfg.Dir, "uploads.db"))
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(ext)] = true
	}

	return &Service{
		cfg:      cfg,
		allowed:  allowed,
		filesDir: filesDir,
		reg:      reg,
		log:      logger.With().Str("component", "upload").Logger(),
		now:      time.Now,
	}, nil
}

// Upload validates name and stores the content of r.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader) (*Record, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(clean))
	if !s.Allowed(clean) {
		return nil, newError(KindTypeNotAllowed, clean, ErrTypeNotAllowed.Message, nil)
	}

	id := uuid.NewString()
	storedName := id + ext
	path := filepath.Join(s.filesDir, storedName)

	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, newError(KindStorage, clean, "failed to initialize digest", err)
	}

	// Read one byte past the limit so an oversized file is detected.
	limited := io.LimitReader(r, s.cfg.MaxBytes+1)
	n, err := util.AtomicWriteReader(path, io.TeeReader(limited, hash), 0600)
	if err != nil {
		return nil, newError(KindStorage, clean, "failed to store file", err)
	}
	if n > s.cfg.MaxBytes {
		_ = os.Remove(path)
		return nil, newError(KindTooLarge, clean, ErrTooLarge.Message, nil)
	}

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	rec := &Record{
		ID:          id,
		Name:        clean,
		StoredName:  storedName,
		Size:        n,
		Digest:      hex.EncodeToString(hash.Sum(nil)),
		ContentType: contentType,
		CreatedAt:   s.now().UTC(),
	}

	if err := s.reg.insert(ctx, rec); err != nil {
		_ = os.Remove(path)
		return nil, newError(KindStorage, clean, "failed to record upload", err)
	}

	s.log.Info().
		Str("id", rec.ID).
		Str("name", rec.Name).
		Int64("size", rec.Size).
		Str("digest", rec.Digest[:16]).
		Msg("file uploaded")

	return rec, nil
}

// Allowed reports whether name has an accepted extension.
func (s *Service) Allowed(name string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	return s.allowed[strings.ToLower(filepath.Ext(name))]
}

// MaxBytes returns the upload size limit.
func (s *Service) MaxBytes() int64 {
	return s.cfg.MaxBytes
}

// List returns stored uploads, newest first. A limit of 0 returns all.
func (s *Service) List(ctx context.Context, limit int) ([]Record, error) {
	return s.reg.list(ctx, limit)
}

// Get returns the record with the given ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.reg.get(ctx, id)
}

// Open opens the stored file of a record for reading.
func (s *Service) Open(rec *Record) (*os.File, error) {
	f, err := os.Open(s.Path(rec))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(KindNotFound, rec.Name, ErrNotFound.Message, err)
		}
		return nil, newError(KindStorage, rec.Name, "failed to open file", err)
	}
	return f, nil
}

// Path returns the on-disk path of a record's file.
func (s *Service) Path(rec *Record) string {
	return filepath.Join(s.filesDir, filepath.Base(rec.StoredName))
}

// Delete removes an upload and its file.
func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.reg.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.reg.delete(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(s.Path(rec)); err != nil && !os.IsNotExist(err) {
		return newError(KindStorage, rec.Name, "failed to remove file", err)
	}
	return nil
}

// Close closes the registry.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.reg.close()
	})
	return err
}

// SanitizeName normalizes a client-supplied file name to NFC, drops any
// directory components and control characters, and bounds its length.
func SanitizeName(name string) (string, error) {
	name = norm.NFC.String(name)
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(strings.TrimSpace(name))

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if name == "" || name == "." || name == ".." || name == "/" {
		return "", newError(KindInvalidName, "", ErrInvalidName.Message, nil)
	}

	if runes := []rune(name); len(runes) > maxNameRunes {
		ext := []rune(filepath.Ext(name))
		if len(ext) >= maxNameRunes {
			ext = nil
		}
		name = string(runes[:maxNameRunes-len(ext)]) + string(ext)
	}
	return name, nil
}
