// Package blob persists raw recognition output as immutable JSON dumps in a
// bucket addressed by a gocloud.dev URL (file://, s3://, mem://).
package blob

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Store wraps one bucket for JSON object storage.
type Store struct {
	bucket *blob.Bucket
	log    *zap.SugaredLogger
}

// Open opens the bucket behind the given URL.
func Open(ctx context.Context, urlstr string, log *zap.SugaredLogger) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, urlstr)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", urlstr, err)
	}
	log.Infow("blob.open.ok", "url", urlstr)
	return &Store{bucket: bucket, log: log}, nil
}

// NewStore wraps an already-open bucket. Tests use this with memblob.
func NewStore(bucket *blob.Bucket, log *zap.SugaredLogger) *Store {
	return &Store{bucket: bucket, log: log}
}

// PutJSON marshals v and writes it at key. Writes are whole-object: a failed
// write leaves no partial blob behind.
func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := s.bucket.WriteAll(ctx, key, data, opts); err != nil {
		s.log.Errorw("blob.put.failed", "key", key, "err", err)
		return fmt.Errorf("write %s: %w", key, err)
	}
	s.log.Debugw("blob.put.ok", "key", key, "bytes", len(data))
	return nil
}

// GetJSON reads the object at key and unmarshals it into v.
func (s *Store) GetJSON(ctx context.Context, key string, v any) error {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		s.log.Errorw("blob.get.failed", "key", key, "err", err)
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// Exists reports whether an object is stored at key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Close releases the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}
