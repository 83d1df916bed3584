// Package objstore uploads result artifacts to an S3-compatible bucket
// (MinIO in the default deployment) and hands out presigned GET URLs.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cs-joeguo/MinerUVision/internal/shared/config"
	"github.com/cs-joeguo/MinerUVision/internal/shared/logging"
)

type S3Store struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucket     string
	expiry     time.Duration
	maxRetries int
	log        logging.Logger
	now        func() time.Time
}

// New builds the store and makes sure the bucket exists.
func New(ctx context.Context, cfg config.StorageConfig, log logging.Logger) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load storage config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	store := &S3Store{
		client:     client,
		presigner:  s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		expiry:     cfg.PresignExpiry,
		maxRetries: cfg.MaxRetries,
		log:        log,
		now:        time.Now,
	}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.log.Info("created artifact bucket", "bucket", s.bucket)
	return nil
}

// Upload stores a local file under the request's object prefix and
// returns a presigned GET URL. Transient upload failures are retried up
// to the configured budget before the error surfaces.
func (s *S3Store) Upload(ctx context.Context, requestID, prefix, filePath string) (string, error) {
	key := ObjectKey(s.now().UTC(), requestID, prefix, filepath.Base(filePath))

	var lastErr error
	attempts := s.maxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if lastErr = s.putFile(ctx, key, filePath); lastErr == nil {
			return s.presignGet(ctx, key)
		}
		s.log.Warn("artifact upload failed",
			"key", key,
			"attempt", attempt+1,
			"error", lastErr,
		)
	}
	return "", fmt.Errorf("upload %s after %d attempts: %w", key, attempts, lastErr)
}

func (s *S3Store) putFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	}
	if ct := mime.TypeByExtension(filepath.Ext(filePath)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	_, err = s.client.PutObject(ctx, input)
	return err
}

func (s *S3Store) presignGet(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Ping verifies the bucket is reachable; the health endpoint calls it.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// ObjectKey lays artifacts out as <date>/<request-id>/<prefix>/<name> so
// a day's output sits under one listing.
func ObjectKey(now time.Time, requestID, prefix, name string) string {
	parts := []string{now.Format("2006-01-02"), requestID}
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, name)
	return strings.Join(parts, "/")
}

func endpointURL(endpoint string, useSSL bool) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
