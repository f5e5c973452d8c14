// Package storage keeps uploaded project files in S3-compatible buckets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"buildtrack/api/internal/util"
)

const (
	BucketDocuments = "documents"
	BucketContracts = "contracts"
)

var (
	ErrUnknownBucket = errors.New("unknown bucket")
	ErrNotFound      = errors.New("object not found")
)

// Buckets lists every bucket the service writes to.
func Buckets() []string {
	return []string{BucketDocuments, BucketContracts}
}

func ValidBucket(name string) bool {
	for _, b := range Buckets() {
		if b == name {
			return true
		}
	}
	return false
}

type Object struct {
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	URL         string    `json:"url"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

type Client struct {
	minio     *minio.Client
	publicURL string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicURL is the externally reachable base for object links.
	PublicURL string
}

func New(opts Options) (*Client, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	publicURL := strings.TrimRight(opts.PublicURL, "/")
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + opts.Endpoint
	}
	return &Client{minio: client, publicURL: publicURL}, nil
}

// EnsureBuckets creates any missing bucket.
func (c *Client) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range Buckets() {
		exists, err := c.minio.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := c.minio.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

func (c *Client) Upload(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) (Object, error) {
	if !ValidBucket(bucket) {
		return Object{}, ErrUnknownBucket
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := c.minio.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return Object{}, fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return Object{
		Bucket:      bucket,
		Key:         key,
		Size:        info.Size,
		ContentType: contentType,
		URL:         PublicURL(c.publicURL, bucket, key),
		UpdatedAt:   info.LastModified,
	}, nil
}

// Download opens an object for reading. The caller closes the reader.
func (c *Client) Download(ctx context.Context, bucket, key string) (io.ReadCloser, Object, error) {
	if !ValidBucket(bucket) {
		return nil, Object{}, ErrUnknownBucket
	}
	obj, err := c.minio.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, translate(err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, Object{}, translate(err)
	}
	return obj, c.describe(bucket, info), nil
}

func (c *Client) Stat(ctx context.Context, bucket, key string) (Object, error) {
	if !ValidBucket(bucket) {
		return Object{}, ErrUnknownBucket
	}
	info, err := c.minio.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return Object{}, translate(err)
	}
	return c.describe(bucket, info), nil
}

func (c *Client) Remove(ctx context.Context, bucket, key string) error {
	if !ValidBucket(bucket) {
		return ErrUnknownBucket
	}
	if err := c.minio.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return translate(err)
	}
	return nil
}

func (c *Client) PublicURL(bucket, key string) string {
	return PublicURL(c.publicURL, bucket, key)
}

func (c *Client) describe(bucket string, info minio.ObjectInfo) Object {
	return Object{
		Bucket:      bucket,
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
		URL:         PublicURL(c.publicURL, bucket, info.Key),
		UpdatedAt:   info.LastModified,
	}
}

func translate(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return ErrNotFound
	}
	return fmt.Errorf("storage: %w", err)
}

// PublicURL joins base, bucket and an escaped key.
func PublicURL(base, bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + strings.Join(segments, "/")
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename reduces a client file name to a safe single path segment.
func SanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = ""
	}
	clean := strings.Trim(unsafeChars.ReplaceAllString(base, "-"), "-.")
	if clean == "" {
		return "file"
	}
	if len(clean) > 120 {
		clean = clean[len(clean)-120:]
	}
	return clean
}

// ObjectKey builds a collision-free key under the project's prefix.
func ObjectKey(projectID, filename string) string {
	prefix := SanitizeFilename(projectID)
	return prefix + "/" + util.NewID("") + "-" + SanitizeFilename(filename)
}

// ValidKey rejects keys that would escape a prefix or are empty.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || len(key) > 1024 {
		return false
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return false
		}
	}
	return true
}
