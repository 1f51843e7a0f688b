package invoice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore writes invoices to a local directory served under baseURL.
type FileStore struct {
	dir     string
	baseURL string
}

func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create invoice dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FileStore) Put(_ context.Context, name, _ string, body []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return s.baseURL + "/" + filepath.Base(name), nil
}

// ObjectUploader is satisfied by aws.S3Uploader.
type ObjectUploader interface {
	Upload(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// S3Store uploads invoices under prefix. When publicBaseURL is empty the
// location reported by S3 is returned.
type S3Store struct {
	uploader      ObjectUploader
	prefix        string
	publicBaseURL string
}

func NewS3Store(uploader ObjectUploader, prefix, publicBaseURL string) *S3Store {
	return &S3Store{
		uploader:      uploader,
		prefix:        strings.Trim(prefix, "/"),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (s *S3Store) Put(ctx context.Context, name, contentType string, body []byte) (string, error) {
	key := name
	if s.prefix != "" {
		key = s.prefix + "/" + name
	}
	location, err := s.uploader.Upload(ctx, key, contentType, body)
	if err != nil {
		return "", err
	}
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}
	return location, nil
}
