// Package objstore keeps the document as one object in an S3-compatible
// bucket. The object ETag is the version token.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tomorrow/api/internal/store"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 15 * time.Second
)

type Config struct {
	Endpoint  string
	Bucket    string
	Key       string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type Store struct {
	client *minio.Client
	bucket string
	key    string
}

func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, cfg.Key), nil
}

func NewWithClient(client *minio.Client, bucket, key string) *Store {
	if key == "" {
		key = "db.json"
	}
	return &Store{client: client, bucket: bucket, key: key}
}

func (s *Store) Name() string {
	return "s3"
}

func (s *Store) Fetch(ctx context.Context) (store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	obj, err := s.client.GetObject(ctx, s.bucket, s.key, minio.GetObjectOptions{})
	if err != nil {
		return store.Snapshot{}, s.translate("get", err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		return store.Snapshot{}, s.translate("read", err)
	}
	info, err := obj.Stat()
	if err != nil {
		return store.Snapshot{}, s.translate("stat", err)
	}
	return store.Snapshot{Content: content, Version: info.ETag}, nil
}

// Put stats the object right before writing and also sends the expected ETag
// as a precondition, so servers that honour If-Match reject a racing writer.
func (s *Store) Put(ctx context.Context, content []byte, version, message string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	current, err := s.currentETag(ctx)
	if err != nil {
		return "", err
	}
	if current != version {
		return "", &store.ConflictError{Expected: version, Current: current}
	}

	opts := minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"message": message},
	}
	if version != "" {
		opts.SetMatchETag(version)
	} else {
		opts.SetMatchETagExcept("*")
	}
	upload, err := s.client.PutObject(ctx, s.bucket, s.key, bytes.NewReader(content), int64(len(content)), opts)
	if err != nil {
		if minio.ToErrorResponse(err).StatusCode == http.StatusPreconditionFailed {
			return "", &store.ConflictError{Expected: version}
		}
		return "", fmt.Errorf("put %s/%s: %w", s.bucket, s.key, err)
	}
	return upload.ETag, nil
}

func (s *Store) currentETag(ctx context.Context) (string, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key, minio.StatObjectOptions{})
	if err != nil {
		translated := s.translate("stat", err)
		if errors.Is(translated, store.ErrNotFound) {
			return "", nil
		}
		return "", translated
	}
	return info.ETag, nil
}

func (s *Store) translate(op string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return store.ErrNotFound
	}
	return fmt.Errorf("%s %s/%s: %w", op, s.bucket, s.key, err)
}
