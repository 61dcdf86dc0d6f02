// Package persistence stores the program catalog and session history as JSON
// documents at a primary shared location and a fallback private location.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/muzaparoff/shuttlx-sub002/internal/domain"
)

const (
	programsDocument = "programs"
	sessionsDocument = "sessions"
)

// ErrNotFound is returned when a document could not be read from either
// location. The caller owns the recovery policy: programs fall back to the
// built-in defaults, sessions to an empty history.
var ErrNotFound = errors.New("document not found in any location")

// WriteReport captures the per-target outcome of a dual write. Policy is to
// proceed as long as either target succeeded, but both results stay
// observable for diagnostics.
type WriteReport struct {
	PrimaryErr  error
	FallbackErr error
}

// Ok reports whether at least one target accepted the write.
func (r WriteReport) Ok() bool {
	return r.PrimaryErr == nil || r.FallbackErr == nil
}

// Err flattens the report into a single error when both targets failed.
func (r WriteReport) Err() error {
	if r.Ok() {
		return nil
	}
	return errors.Join(r.PrimaryErr, r.FallbackErr)
}

// FileStoreOption configures optional behaviour for the FileStore.
type FileStoreOption func(*FileStore)

// WithFileStoreLogger overrides the logger used for fallback diagnostics.
func WithFileStoreLogger(logger *log.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// FileStore reads and writes whole JSON documents. Writes go to both
// locations independently and are atomic per document (temp file + rename),
// so a crash never leaves a half-written file behind.
type FileStore struct {
	primaryDir  string
	fallbackDir string
	logger      *log.Logger
}

// NewFileStore builds a store over the two directories.
func NewFileStore(primaryDir, fallbackDir string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		primaryDir:  primaryDir,
		fallbackDir: fallbackDir,
		logger:      log.New(log.Writer(), "[store] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadPrograms reads the catalog document.
func (s *FileStore) LoadPrograms() ([]domain.Program, error) {
	var catalog []domain.Program
	if err := s.load(programsDocument, &catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// LoadSessions reads the session history document.
func (s *FileStore) LoadSessions() ([]domain.Session, error) {
	var history []domain.Session
	if err := s.load(sessionsDocument, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// SavePrograms replaces the catalog document at both locations.
func (s *FileStore) SavePrograms(catalog []domain.Program) WriteReport {
	return s.save(programsDocument, catalog)
}

// SaveSessions replaces the session history document at both locations.
func (s *FileStore) SaveSessions(history []domain.Session) WriteReport {
	return s.save(sessionsDocument, history)
}

func (s *FileStore) load(doc string, v any) error {
	primaryErr := readDocument(s.documentPath(s.primaryDir, doc), v)
	if primaryErr == nil {
		return nil
	}

	fallbackErr := readDocument(s.documentPath(s.fallbackDir, doc), v)
	if fallbackErr == nil {
		s.logger.Printf("load %s: primary unavailable, using fallback: %v", doc, primaryErr)
		return nil
	}

	return fmt.Errorf("%w: %s: %v", ErrNotFound, doc, errors.Join(primaryErr, fallbackErr))
}

func (s *FileStore) save(doc string, v any) WriteReport {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return WriteReport{PrimaryErr: err, FallbackErr: err}
	}

	report := WriteReport{
		PrimaryErr:  writeDocumentAtomic(s.documentPath(s.primaryDir, doc), body),
		FallbackErr: writeDocumentAtomic(s.documentPath(s.fallbackDir, doc), body),
	}
	if report.PrimaryErr != nil {
		s.logger.Printf("save %s: primary write failed: %v", doc, report.PrimaryErr)
	}
	if report.FallbackErr != nil {
		s.logger.Printf("save %s: fallback write failed: %v", doc, report.FallbackErr)
	}
	return report
}

func (s *FileStore) documentPath(dir, doc string) string {
	return filepath.Join(dir, doc+".json")
}

func readDocument(path string, v any) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeDocumentAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
