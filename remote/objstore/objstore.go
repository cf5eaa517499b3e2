// Package objstore implements reviewcache.Storage on S3-compatible object
// storage through minio-go.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	reviewcache "github.com/dgduncan/go-review-cache"
	"github.com/dgduncan/go-review-cache/caches"
)

// ErrObjectExists is returned by Upload without Upsert when the path is taken.
var ErrObjectExists = errors.New("storage object already exists")

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool

	// PublicBaseURL overrides the base used by PublicURL, e.g. a CDN in
	// front of the public buckets. Defaults to the endpoint URL.
	PublicBaseURL string
}

// Storage is a reviewcache.Storage backed by a minio client.
type Storage struct {
	cl         *minio.Client
	publicBase *url.URL
}

var _ reviewcache.Storage = (*Storage)(nil)

func New(cfg Config) (*Storage, error) {
	if cfg.Endpoint == "" {
		return nil, caches.ValidationError{Reason: "storage endpoint required"}
	}
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, err
	}

	base := cl.EndpointURL()
	if cfg.PublicBaseURL != "" {
		if base, err = url.Parse(cfg.PublicBaseURL); err != nil {
			return nil, fmt.Errorf("public base url: %w", err)
		}
	}
	return &Storage{cl: cl, publicBase: base}, nil
}

// mapErr translates missing-object responses into reviewcache.ErrObjectNotFound.
func mapErr(op, bucket, path string, err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s %s/%s: %w", op, bucket, path, reviewcache.ErrObjectNotFound)
	}
	return fmt.Errorf("%s %s/%s: %w", op, bucket, path, err)
}

func (s *Storage) Upload(ctx context.Context, bucket, path string, data []byte, opts reviewcache.UploadOptions) error {
	if !opts.Upsert {
		_, err := s.cl.StatObject(ctx, bucket, path, minio.StatObjectOptions{})
		if err == nil {
			return fmt.Errorf("upload %s/%s: %w", bucket, path, ErrObjectExists)
		}
		if err = mapErr("upload", bucket, path, err); !errors.Is(err, reviewcache.ErrObjectNotFound) {
			return err
		}
	}

	_, err := s.cl.PutObject(ctx, bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	return mapErr("upload", bucket, path, err)
}

// Download returns the object body and its stored content type.
func (s *Storage) Download(ctx context.Context, bucket, path string) ([]byte, string, error) {
	info, err := s.cl.StatObject(ctx, bucket, path, minio.StatObjectOptions{})
	if err != nil {
		return nil, "", mapErr("download", bucket, path, err)
	}

	obj, err := s.cl.GetObject(ctx, bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", mapErr("download", bucket, path, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", mapErr("download", bucket, path, err)
	}
	return data, info.ContentType, nil
}

// PublicURL builds the path-style URL of an object in a public bucket.
func (s *Storage) PublicURL(bucket, path string) string {
	return s.publicBase.JoinPath(bucket, path).String()
}

func (s *Storage) SignedURL(ctx context.Context, bucket, path string, expiry time.Duration) (string, error) {
	u, err := s.cl.PresignedGetObject(ctx, bucket, path, expiry, url.Values{})
	if err != nil {
		return "", mapErr("sign", bucket, path, err)
	}
	return u.String(), nil
}

// Remove deletes paths from bucket and returns the first failure.
func (s *Storage) Remove(ctx context.Context, bucket string, paths []string) error {
	objs := make(chan minio.ObjectInfo, len(paths))
	for _, p := range paths {
		objs <- minio.ObjectInfo{Key: p}
	}
	close(objs)

	var first error
	for e := range s.cl.RemoveObjects(ctx, bucket, objs, minio.RemoveObjectsOptions{}) {
		if first == nil {
			first = mapErr("remove", bucket, e.ObjectName, e.Err)
		}
	}
	return first
}
