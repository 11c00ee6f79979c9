package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSStore persists blobs under a directory on the local filesystem. Content
// goes to <dir>/<id> with a JSON metadata sidecar at <dir>/<id>.meta.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory %s: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) contentPath(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *FSStore) metaPath(id string) string {
	return filepath.Join(s.dir, id+".meta")
}

func (s *FSStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	data, err := validateAndRead(&meta, content)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(s.contentPath(meta.ID), data, 0o644); err != nil {
		return nil, fmt.Errorf("write blob content: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal blob metadata: %w", err)
	}
	if err := os.WriteFile(s.metaPath(meta.ID), metaJSON, 0o644); err != nil {
		return nil, fmt.Errorf("write blob metadata: %w", err)
	}

	out := meta
	return &out, nil
}

func (s *FSStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(s.contentPath(id))
	if os.IsNotExist(err) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read blob content: %w", err)
	}

	return io.NopCloser(bytes.NewReader(data)), meta, nil
}

func (s *FSStore) Delete(_ context.Context, id string) error {
	if _, err := os.Stat(s.metaPath(id)); os.IsNotExist(err) {
		return ErrBlobNotFound
	}
	if err := os.Remove(s.contentPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob content: %w", err)
	}
	if err := os.Remove(s.metaPath(id)); err != nil {
		return fmt.Errorf("remove blob metadata: %w", err)
	}
	return nil
}

func (s *FSStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if os.IsNotExist(err) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob metadata: %w", err)
	}

	var meta BlobMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal blob metadata: %w", err)
	}
	return &meta, nil
}
