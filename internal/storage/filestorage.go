package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrAdminNotFound = errors.New("admin account not found")
	ErrAdminExists   = errors.New("admin account already exists")
	ErrCorruptStore  = errors.New("store file is corrupt")
)

// FileStorage keeps the whole Document in one JSON file. Every read-modify-write
// cycle holds mu, so requests served by one process can't clobber each other.
// Nothing coordinates separate processes sharing the same file.
type FileStorage struct {
	filePath    string
	lenientRead bool
	logger      *zap.Logger

	mu sync.Mutex
}

type Option func(*FileStorage)

// WithLenientRead makes read failures return an empty document instead of an
// error. It mirrors the legacy behavior and can hide a corrupt file.
func WithLenientRead() Option {
	return func(fs *FileStorage) {
		fs.lenientRead = true
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(fs *FileStorage) {
		fs.logger = logger
	}
}

func NewFileStorage(filePath string, opts ...Option) *FileStorage {
	fs := &FileStorage{
		filePath: filePath,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.logger = fs.logger.With(zap.String("component", "file_storage"), zap.String("path", filePath))
	return fs
}

func (fs *FileStorage) Path() string {
	return fs.filePath
}

// Initialize seeds the file with the reference lists and the given admin
// accounts. An existing file is left untouched.
func (fs *FileStorage) Initialize(ctx context.Context, admins ...AdminAccount) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := os.Stat(fs.filePath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat store: %w", err)
	}

	if dir := filepath.Dir(fs.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	doc := NewDocument()
	doc.AdminAccounts = append(doc.AdminAccounts, admins...)
	if err := fs.save(doc); err != nil {
		return false, err
	}

	fs.logger.Info("Store initialized", zap.Int("admin_accounts", len(admins)))
	return true, nil
}

func (fs *FileStorage) Read(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.load()
}

func (fs *FileStorage) Write(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.save(doc)
}

// View runs fn against a freshly loaded document. Changes made by fn are not saved.
func (fs *FileStorage) View(ctx context.Context, fn func(doc *Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

// Update loads the document, applies fn and writes the result back. If fn
// returns an error nothing is written.
func (fs *FileStorage) Update(ctx context.Context, fn func(doc *Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	doc, err := fs.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return fs.save(doc)
}

func (fs *FileStorage) load() (*Document, error) {
	doc, err := fs.decode()
	if err != nil {
		if fs.lenientRead {
			fs.logger.Warn("Store read failed, continuing with empty document", zap.Error(err))
			return NewDocument(), nil
		}
		return nil, err
	}
	return doc, nil
}

func (fs *FileStorage) decode() (*Document, error) {
	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewDocument(), nil
		}
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer file.Close()

	doc := &Document{}
	if err := json.NewDecoder(file).Decode(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	doc.normalize()
	return doc, nil
}

func (fs *FileStorage) save(doc *Document) error {
	dir := filepath.Dir(fs.filePath)
	tmp, err := os.CreateTemp(dir, filepath.Base(fs.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush store: %w", err)
	}
	if err := os.Rename(tmpName, fs.filePath); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}
