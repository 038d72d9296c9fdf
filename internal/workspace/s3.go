package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// s3FS backs the workspace with an S3-compatible object store, for clusters
// where no shared POSIX volume is available to both master and children.
//
// URL shape: s3://bucket/prefix?endpoint=host:port&secure=false
type s3FS struct {
	client *minio.Client
	bucket string
	prefix string
}

func newS3FS(u *url.URL) (*s3FS, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("workspace: s3 URL %q missing bucket", u.String())
	}
	prefix := strings.TrimPrefix(u.Path, "/")

	endpoint := u.Query().Get("endpoint")
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	secure := u.Query().Get("secure") != "false"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewEnvAWS(),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: create s3 client for %q: %w", endpoint, err)
	}

	return &s3FS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (f *s3FS) objectName(key string) string {
	if f.prefix == "" {
		return key
	}
	return f.prefix + "/" + key
}

// ResolvedPath returns the bucket-relative object name for key.
func (f *s3FS) ResolvedPath(key string) string {
	return f.objectName(key)
}

func (f *s3FS) Put(ctx context.Context, key string, data []byte) error {
	_, err := f.client.PutObject(ctx, f.bucket, f.objectName(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("workspace: s3 put %q: %w", key, err)
	}
	return nil
}

func (f *s3FS) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := f.client.GetObject(ctx, f.bucket, f.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("workspace: s3 get %q: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("workspace: s3 read %q: %w", key, err)
	}
	return data, nil
}

func (f *s3FS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := f.client.StatObject(ctx, f.bucket, f.objectName(key), minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("workspace: s3 stat %q: %w", key, err)
	}
	return true, nil
}
