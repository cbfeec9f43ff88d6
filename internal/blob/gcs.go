package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

const gcsScheme = "gs"

// GCSStore keeps blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a store using application default credentials.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put writes the object only if it does not exist yet.
func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, _ int64, contentType string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", mapGCSError(err)
	}
	if err := w.Close(); err != nil {
		return "", mapGCSError(err)
	}
	return gcsScheme + "://" + s.bucket + "/" + key, nil
}

func (s *GCSStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key, err := splitRef(ref, gcsScheme)
	if err != nil {
		return nil, err
	}
	rc, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError(err)
	}
	return rc, nil
}

func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	bucket, key, err := splitRef(ref, gcsScheme)
	if err != nil {
		return err
	}
	err = s.client.Bucket(bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return mapGCSError(err)
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func mapGCSError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrNotFound
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusPreconditionFailed:
			return ErrExists
		case http.StatusNotFound:
			return ErrNotFound
		}
	}
	return fmt.Errorf("gcs: %w", err)
}
