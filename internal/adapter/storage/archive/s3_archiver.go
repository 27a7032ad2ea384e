package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"payment-webhook-engine/config"
	"payment-webhook-engine/internal/core/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrInvalidConfig is returned when the archive bucket or region is missing.
var ErrInvalidConfig = errors.New("archive: bucket and region are required")

// S3Client is the subset of the S3 API the archiver needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver implements ports.Archiver by writing each swept batch as one
// NDJSON object.
type S3Archiver struct {
	client S3Client
	bucket string
	prefix string
	log    zerolog.Logger
	now    func() time.Time
}

// NewS3Archiver builds an archiver around an existing client.
func NewS3Archiver(client S3Client, bucket, prefix string, log zerolog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log,
		now:    time.Now,
	}
}

// NewS3ArchiverFromConfig loads AWS configuration and builds the S3 client.
// Static credentials are used when both keys are set, otherwise the default
// provider chain applies.
func NewS3ArchiverFromConfig(ctx context.Context, cfg config.ArchiveConfig, log zerolog.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewS3Archiver(client, cfg.Bucket, cfg.Prefix, log), nil
}

// Archive uploads records as newline-delimited JSON. An empty batch is a no-op.
func (a *S3Archiver) Archive(ctx context.Context, state domain.DeliveryState, records []*domain.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
	}

	key := a.objectKey(state)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put archive object %s: %w", key, err)
	}

	a.log.Info().
		Str("bucket", a.bucket).
		Str("key", key).
		Str("state", string(state)).
		Int("records", len(records)).
		Msg("archived delivery records")
	return nil
}

// objectKey is <prefix>/<state>/YYYY/MM/DD/<unix-nanos>-<uuid>.ndjson.
func (a *S3Archiver) objectKey(state domain.DeliveryState) string {
	now := a.now().UTC()
	name := fmt.Sprintf("%d-%s.ndjson", now.UnixNano(), uuid.NewString())
	return path.Join(a.prefix, strings.ToLower(string(state)), now.Format("2006/01/02"), name)
}
