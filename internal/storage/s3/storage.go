// Package s3 keeps offsite copies of backups in Amazon S3 or an
// S3-compatible service (MinIO, Wasabi, DigitalOcean Spaces).
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/osa911/stackctl/internal/logging"
)

var (
	ErrInvalidConfig = errors.New("s3: bucket and region are required")
	ErrNotFound      = errors.New("s3: object not found")
)

// S3Client is the subset of the S3 API the store uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3aws.PutObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3aws.GetObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3aws.ListObjectsV2Input, optFns ...func(*s3aws.Options)) (*s3aws.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3aws.DeleteObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.DeleteObjectOutput, error)
}

// Config selects the bucket and credentials.
type Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Endpoint        string // S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// Object is a stored key.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Store uploads and downloads backup files under a key prefix.
type Store struct {
	client S3Client
	bucket string
	prefix string
	logger *logging.Logger
}

// Option configures New.
type Option func(*options)

type options struct {
	client S3Client
}

// WithClient uses a pre-configured client instead of building one.
func WithClient(client S3Client) Option {
	return func(o *options) { o.client = client }
}

// New builds a store. Credentials fall back to the default AWS chain
// (environment, shared config, instance role) when not given.
func New(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			awsOptions = append(awsOptions, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			))
		}

		awsConfig, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}

		client = s3aws.NewFromConfig(awsConfig, func(so *s3aws.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logging.GetGlobalLogger(),
	}, nil
}

// Key returns the object key for a file of the given stack.
func (s *Store) Key(stack, name string) string {
	return path.Join(s.prefix, stack, name)
}

// URI renders a key as s3://bucket/key.
func (s *Store) URI(key string) string {
	return "s3://" + s.bucket + "/" + key
}

// Upload stores body under key.
func (s *Store) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	input := &s3aws.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.URI(key), err)
	}
	s.logger.Debug("Uploaded %s", s.URI(key))
	return nil
}

// Download copies the object at key into w.
func (s *Store) Download(ctx context.Context, key string, w io.Writer) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3aws.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, s.URI(key))
		}
		return 0, fmt.Errorf("failed to download %s: %w", s.URI(key), err)
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read %s: %w", s.URI(key), err)
	}
	return n, nil
}

// List returns the objects of a stack, newest first.
func (s *Store) List(ctx context.Context, stack string) ([]Object, error) {
	prefix := s.Key(stack, "") + "/"
	var objects []Object
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3aws.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", s.URI(prefix), err)
		}
		for _, obj := range out.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].LastModified.After(objects[j].LastModified) })
	return objects, nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3aws.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", s.URI(key), err)
	}
	return nil
}

// KeyFromURI returns the key of an s3:// reference. The bucket segment is
// dropped when it names this store's bucket, so URIs printed by URI round-trip.
func (s *Store) KeyFromURI(uri string) string {
	key := strings.TrimPrefix(uri, "s3://")
	if rest, ok := strings.CutPrefix(key, s.bucket+"/"); ok {
		return rest
	}
	return key
}
