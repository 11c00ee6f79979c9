// Package blobstore stores uploaded documents such as test reports and
// generated prescription PDFs. It defines the BlobStore interface, an
// in-memory implementation for tests, and a filesystem implementation.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrInvalidCategory    = errors.New("category is not allowed")
)

// MaxFileSize is the maximum allowed blob size in bytes (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// AllowedCategories lists valid blob category values.
var AllowedCategories = map[string]bool{
	"test-report":      true,
	"prescription-pdf": true,
	"other":            true,
}

// AllowedContentTypes lists accepted upload MIME types.
var AllowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"application/pdf": true,
	"text/plain":      true,
}

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	PatientID   string    `json:"patient_id,omitempty"`
	Category    string    `json:"category"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

// BlobStore defines the contract for blob storage backends.
type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, id string) error
	GetMetadata(ctx context.Context, id string) (*BlobMetadata, error)
}

// validateAndRead applies the shared upload rules and returns the content.
func validateAndRead(meta *BlobMetadata, content io.Reader) ([]byte, error) {
	if meta.FileName == "" {
		return nil, ErrMissingFileName
	}
	if meta.ContentType != "" && !AllowedContentTypes[meta.ContentType] {
		return nil, ErrInvalidContentType
	}
	if meta.Category == "" {
		meta.Category = "other"
	}
	if !AllowedCategories[meta.Category] {
		return nil, ErrInvalidCategory
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	if meta.ID == "" {
		meta.ID = uuid.New().String()
	}
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	meta.CreatedAt = time.Now().UTC()

	return data, nil
}

type storedBlob struct {
	metadata BlobMetadata
	content  []byte
}

// MemoryStore is an in-memory BlobStore for tests and development.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*storedBlob)}
}

func (s *MemoryStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	data, err := validateAndRead(&meta, content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemoryStore) Download(_ context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

func (s *MemoryStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blob, ok := s.blobs[id]
	if !ok {
		return nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return &meta, nil
}
