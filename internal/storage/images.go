// Package storage releases product images that the catalog no longer
// references.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// S3Config locates the bucket holding uploaded images.
type S3Config struct {
	Endpoint     string
	Bucket       string
	Region       string
	AccessKey    string
	SecretKey    string //nolint:gosec // G117: object storage credential config
	UsePathStyle bool
}

type objectDeleter interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Reaper deletes orphaned images from an S3-compatible bucket.
type S3Reaper struct {
	client objectDeleter
	bucket string
}

func NewS3Reaper(ctx context.Context, cfg S3Config) (*S3Reaper, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage.NewS3Reaper: bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewS3Reaper: aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Reaper{client: client, bucket: cfg.Bucket}, nil
}

// ObjectKey maps an image reference to its object key. References may be
// absolute URLs or paths such as "/uploads/a.png".
func ObjectKey(imageRef string) string {
	ref := strings.TrimSpace(imageRef)
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Host != "" {
		ref = u.Path
	}
	return strings.TrimLeft(ref, "/")
}

// Release deletes the object behind imageRef. Objects that are already gone
// count as released.
func (r *S3Reaper) Release(ctx context.Context, imageRef string) error {
	key := ObjectKey(imageRef)
	if key == "" {
		return nil
	}

	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("storage.S3Reaper.Release: %w", err)
	}

	log.Debug().Str("bucket", r.bucket).Str("key", key).Msg("storage: released image")

	return nil
}

// LogReaper only records orphaned references, for deployments where another
// service owns image cleanup.
type LogReaper struct{}

func (LogReaper) Release(_ context.Context, imageRef string) error {
	log.Info().Str("image_ref", imageRef).Msg("storage: image no longer referenced")
	return nil
}
