package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/token-registry-sync/interfaces"
)

// S3Backend archives artifacts in an S3 or S3-compatible bucket.
// Without credentials it can only read public objects.
type S3Backend struct {
	client         *s3.S3
	bucketName     string
	prefix         string
	log            *slog.Logger
	locationURI    string
	hasWriteAccess bool
}

// S3Options configures NewS3Backend. Region defaults to us-east-1.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// PathStyle is needed by most self-hosted S3 implementations such as MinIO.
	PathStyle bool
}

func NewS3Backend(opts S3Options, log *slog.Logger) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("%w: missing S3 bucket", interfaces.ErrInvalidLocationURI)
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	cfg := aws.Config{
		Region:           aws.String(opts.Region),
		S3ForcePathStyle: aws.Bool(opts.PathStyle),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}

	hasWriteAccess := opts.AccessKey != "" && opts.SecretKey != ""
	if hasWriteAccess {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKey, opts.SecretKey, "")
	} else {
		cfg.Credentials = credentials.AnonymousCredentials
		log.Warn("No S3 credentials provided, archive uploads will fail unless the bucket is publicly writable",
			slog.String("bucket", opts.Bucket))
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", opts.Bucket, opts.Prefix, opts.Region)
	if opts.Endpoint != "" {
		uri += "&endpoint=" + opts.Endpoint
	}

	return &S3Backend{
		client:         s3.New(sess),
		bucketName:     opts.Bucket,
		prefix:         strings.Trim(opts.Prefix, "/"),
		log:            log,
		locationURI:    uri,
		hasWriteAccess: hasWriteAccess,
	}, nil
}

func (b *S3Backend) Fetch(ctx context.Context, id interfaces.ContentID, kind interfaces.ArtifactKind) ([]byte, error) {
	start := time.Now()
	key := b.objectKey(id, kind)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, interfaces.ErrContentNotFound
		}
		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	b.log.Debug("Fetched artifact from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Store uploads data with a public-read ACL so archived snapshots can be
// served straight from the bucket.
func (b *S3Backend) Store(ctx context.Context, data []byte, kind interfaces.ArtifactKind) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	key := b.objectKey(id, kind)

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		ACL:         aws.String(s3.ObjectCannedACLPublicRead),
	})
	if err != nil {
		if !b.hasWriteAccess {
			return id, fmt.Errorf("failed to upload object to S3 (no write credentials provided): %w", err)
		}
		return id, fmt.Errorf("failed to upload object to S3: %w", err)
	}

	b.log.Debug("Stored artifact in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.String("contentID", id.String()))
	return id, nil
}

func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable", slog.String("bucket", b.bucketName), "err", err)
		return false
	}
	return true
}

func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) objectKey(id interfaces.ContentID, kind interfaces.ArtifactKind) string {
	return path.Join(b.prefix, kind.String(), id.String()+".json")
}
