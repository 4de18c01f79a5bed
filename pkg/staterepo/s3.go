package staterepo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures the durable checkpoint copy.
type S3Config struct {
	Region       string
	Bucket       string
	Key          string // object key the checkpoint blob is stored under
	Endpoint     string // non-empty for MinIO/local dev
	UsePathStyle bool
	AccessKey    string
	SecretKey    string
}

// s3Durable is the durable backing store for the checkpoint blob. Adapted
// Same credential-resolution
// branch (static keys for MinIO/local vs. the default chain for IAM roles),
// same checksum-on-write metadata, narrowed to one fixed object key instead
// of content-addressable proto-file storage.
type s3Durable struct {
	client *s3.Client
	bucket string
	key    string
}

func newS3Durable(ctx context.Context, cfg S3Config) (*s3Durable, error) {
	var awsCfg aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("staterepo: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	key := cfg.Key
	if key == "" {
		key = "webhookrelay/state.json"
	}

	return &s3Durable{client: client, bucket: cfg.Bucket, key: key}, nil
}

func (d *s3Durable) put(ctx context.Context, blob []byte) error {
	hash := sha256.Sum256(blob)
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
		},
	})
	if err != nil {
		return fmt.Errorf("staterepo: put checkpoint: %w", err)
	}
	return nil
}

// ping checks that the configured bucket is reachable, for health checks.
func (d *s3Durable) ping(ctx context.Context) error {
	_, err := d.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(d.bucket)})
	if err != nil {
		return fmt.Errorf("staterepo: head bucket %s: %w", d.bucket, err)
	}
	return nil
}

func (d *s3Durable) get(ctx context.Context) ([]byte, bool, error) {
	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("staterepo: get checkpoint: %w", err)
	}
	defer result.Body.Close()

	blob, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, false, fmt.Errorf("staterepo: read checkpoint body: %w", err)
	}
	return blob, true, nil
}

func isNotFoundError(err error) bool {
	var notFound interface{ ErrorCode() string }
	if errors.As(err, &notFound) {
		code := notFound.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}
