package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Sink stores an encoded snapshot under name and returns where it went
type Sink interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// FileSink writes snapshots into a directory
type FileSink struct {
	Dir string
}

// Put implements Sink
func (s FileSink) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(s.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename export: %w", err)
	}
	return path, nil
}

// ObjectPutter is the part of the S3 client the sink needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads snapshots to a bucket
type S3Sink struct {
	Client ObjectPutter
	Bucket string
	Prefix string
}

// Put implements Sink
func (s S3Sink) Put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	key := name
	if s.Prefix != "" {
		key = s.Prefix + "/" + name
	}
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key), nil
}

// S3Config configures the S3 client
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// NewS3Client builds a path-style S3 client. Static credentials are used when
// both keys are set; otherwise the default AWS chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(cfg.Endpoint))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	}), nil
}

// ObjectName returns a unique snapshot name for a session
func ObjectName(session string, format Format, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s%s", session, at.UTC().Format("20060102T150405Z"), uuid.NewString()[:8], format.Ext())
}

// Write encodes doc and stores it in sink
func Write(ctx context.Context, sink Sink, doc Document, format Format) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc, format); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return sink.Put(ctx, ObjectName(doc.Session, format, time.Now()), format.ContentType(), buf.Bytes())
}
