package store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is prepended to every object name.
	Prefix string
}

// Object implements KV on an S3-compatible bucket, one object per key.
type Object struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObject connects and creates the bucket when missing.
func NewObject(ctx context.Context, cfg ObjectConfig) (*Object, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "session/"
	}
	return &Object{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (o *Object) name(key string) string {
	return o.prefix + key + ".json"
}

func (o *Object) Get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := o.client.GetObject(ctx, o.bucket, o.name(key), minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	value, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read object %s: %w", key, err)
	}
	return value, true, nil
}

func (o *Object) Set(ctx context.Context, key string, value []byte) error {
	_, err := o.client.PutObject(ctx, o.bucket, o.name(key), bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Remove succeeds for a missing object; S3 deletes are idempotent.
func (o *Object) Remove(ctx context.Context, key string) error {
	if err := o.client.RemoveObject(ctx, o.bucket, o.name(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
