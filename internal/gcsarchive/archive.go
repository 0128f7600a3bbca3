// Package gcsarchive keeps the original upload bytes in GCS so an upload
// can be re-resolved later from its archived source.
package gcsarchive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// Archive stores and fetches raw upload files. The storage client is
// created once at process start and injected.
type Archive struct {
	client *storage.Client
	bucket string
}

// New builds an archive over an existing client. Application Default
// Credentials are assumed (gcloud auth application-default login).
func New(client *storage.Client, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket}
}

// Checksum returns the hex SHA-256 of the file bytes. The same value is
// recorded on the Upload to reject re-ingesting an identical file.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Store writes the file under uploads/<user>/<uuid>-<name> and returns
// the gs:// URI.
func (a *Archive) Store(ctx context.Context, userID, filename string, data []byte) (string, error) {
	object := fmt.Sprintf("uploads/%s/%s-%s", userID, uuid.New().String(), path.Base(filename))

	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Store: copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Store: finalize upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}

// Fetch downloads the archived bytes from a gs:// URI.
func (a *Archive) Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucket, object, err := splitURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := a.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}

func splitURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}
