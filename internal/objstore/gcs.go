package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"essaypipe/internal/model"
)

// GCSStore keeps artifacts in a Cloud Storage bucket under the same key
// scheme as the filesystem store.
type GCSStore struct {
	bucket *storage.BucketHandle
}

func NewGCSStore(ctx context.Context, bucketName string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSStore{bucket: client.Bucket(bucketName)}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// OriginalKey is the canonical location of an upload's source bytes.
func OriginalKey(ownerID, submissionID, ext string) string {
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s/original.%s", ownerID, submissionID, ext)
}

// ArtifactKey names a per-stage artifact for a submission.
func ArtifactKey(ownerID, submissionID, name string) string {
	return fmt.Sprintf("%s/%s/%s", ownerID, submissionID, name)
}
