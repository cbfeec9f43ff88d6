// Package blob is the file storage collaborator. The workflow engine hands it
// bytes and gets back an opaque reference; it never inspects file contents.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned by Open when the reference points at nothing.
	ErrNotFound = errors.New("blob not found")
	// ErrExists is returned by Put when the key is already taken.
	ErrExists = errors.New("blob already exists")
)

// Store persists file contents.
type Store interface {
	// Put writes r under key and returns the reference to store with the metadata.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Open streams the contents behind ref. Callers close the reader.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Delete removes the contents behind ref. Deleting a missing blob is not an error.
	Delete(ctx context.Context, ref string) error
}

// splitRef parses "<scheme>://<bucket>/<key>".
func splitRef(ref, scheme string) (bucket, key string, err error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(ref, prefix) {
		return "", "", fmt.Errorf("blob reference %q is not a %s reference", ref, scheme)
	}
	rest := strings.TrimPrefix(ref, prefix)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed blob reference %q", ref)
	}
	return bucket, key, nil
}
