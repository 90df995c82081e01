// internal/report/archive.go
package report

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/FairForge/loadprobe/internal/config"
	"github.com/FairForge/loadprobe/internal/loadtest"
)

const (
	archiveSuffix      = ".json.zst"
	archiveContentType = "application/json"
	archiveEncoding    = "zstd"
	maxDecoderMemory   = 64 * 1024 * 1024
)

// ObjectStore is the subset of the S3 client the archiver uses.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds a client for cfg. Static keys take precedence over the
// default credential chain; a custom endpoint targets S3-compatible stores.
func NewS3Client(ctx context.Context, cfg config.ArchiveConfig) (*s3.Client, error) {
	if cfg.AccessKey != "" {
		opts := s3.Options{
			Region:       cfg.Region,
			Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
			UsePathStyle: cfg.UsePathStyle,
		}
		if cfg.Endpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		return s3.New(opts), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Archiver stores reports as zstd-compressed JSON objects.
type Archiver struct {
	client ObjectStore
	bucket string
	prefix string
	logger *zap.Logger
}

// NewArchiver creates an archiver writing under prefix in bucket.
func NewArchiver(client ObjectStore, bucket, prefix string, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Key returns the object key for a run id.
func (a *Archiver) Key(id string) string {
	return path.Join(a.prefix, id+archiveSuffix)
}

// Save uploads r and returns its object key.
func (a *Archiver) Save(ctx context.Context, r *loadtest.Report) (string, error) {
	var raw bytes.Buffer
	if err := WriteJSON(&raw, r); err != nil {
		return "", err
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return "", fmt.Errorf("create encoder: %w", err)
	}
	compressed := encoder.EncodeAll(raw.Bytes(), make([]byte, 0, raw.Len()/4))
	_ = encoder.Close()

	key := a.Key(r.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentLength:   aws.Int64(int64(len(compressed))),
		ContentType:     aws.String(archiveContentType),
		ContentEncoding: aws.String(archiveEncoding),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	a.logger.Info("report archived",
		zap.String("run_id", r.ID),
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int("raw_bytes", raw.Len()),
		zap.Int("stored_bytes", len(compressed)))
	return key, nil
}

// Load fetches and decodes the archived report for id.
func (a *Archiver) Load(ctx context.Context, id string) (*loadtest.Report, error) {
	key := a.Key(id)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	decoder, err := zstd.NewReader(out.Body,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxDecoderMemory),
	)
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	defer decoder.Close()

	return ReadJSON(decoder)
}
