package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore keeps the ledger in a single GCS object. Object writes are only
// visible once finalized, which gives the same old-or-new guarantee as the
// local temp-write + rename.
type GCSStore struct {
	bucket *storage.BucketHandle
	object string
}

func NewGCSStore(client *storage.Client, bucket, object string) *GCSStore {
	if object == "" {
		object = "api_usage.json"
	}
	return &GCSStore{bucket: client.Bucket(bucket), object: object}
}

func (s *GCSStore) Load() (map[string]Record, error) {
	ctx := context.Background()
	reader, err := s.bucket.Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("failed to open usage object: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage object: %w", err)
	}
	records := map[string]Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("usage object is corrupt: %w", err)
	}
	return records, nil
}

func (s *GCSStore) Save(records map[string]Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal usage records: %w", err)
	}

	ctx := context.Background()
	writer := s.bucket.Object(s.object).NewWriter(ctx)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write usage object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize usage object: %w", err)
	}
	return nil
}
