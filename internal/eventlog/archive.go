package eventlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/oszuidwest/zwfm-levelmon/internal/util"
)

// UploadTimeout bounds a single archive upload.
const UploadTimeout = 30000 * time.Millisecond

// ErrArchiveNotConfigured is returned when no bucket or credentials are set.
var ErrArchiveNotConfigured = errors.New("archive storage is not configured")

// S3Config holds S3-compatible storage settings.
type S3Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	RetentionDays   int // 0 keeps archives forever
}

// IsConfigured reports whether the bucket and credentials are present.
func (c *S3Config) IsConfigured() bool {
	return util.IsConfigured(c.Bucket, c.AccessKeyID, c.SecretAccessKey)
}

// objectStore is the subset of the S3 client the archiver uses.
type objectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Archiver uploads copies of the event log to S3-compatible storage.
type Archiver struct {
	logger *Logger
	cfg    S3Config
	client objectStore
	now    func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// createS3Client creates an S3 client with the given configuration.
func createS3Client(cfg *S3Config) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// NewArchiver creates an archiver for the logger's file.
func NewArchiver(logger *Logger, cfg S3Config) (*Archiver, error) {
	if !cfg.IsConfigured() {
		return nil, ErrArchiveNotConfigured
	}
	return &Archiver{
		logger: logger,
		cfg:    cfg,
		client: createS3Client(&cfg),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}, nil
}

// Archive uploads the current event log and returns the object key.
// The outcome is recorded in the event log itself.
func (a *Archiver) Archive(ctx context.Context) (string, error) {
	key := a.objectKey()

	data, err := os.ReadFile(a.logger.Path())
	if err != nil {
		return "", a.record(key, 0, util.WrapError("read event log", err))
	}

	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", a.record(key, 0, util.WrapError("upload event log", err))
	}

	slog.Info("event log archived", "bucket", a.cfg.Bucket, "key", key, "bytes", len(data))
	return key, a.record(key, int64(len(data)), nil)
}

func (a *Archiver) objectKey() string {
	name := fmt.Sprintf("events-%s.jsonl", a.now().UTC().Format("2006-01-02T150405Z"))
	return path.Join(a.cfg.Prefix, name)
}

// record logs the archive outcome and returns uploadErr unchanged.
func (a *Archiver) record(key string, size int64, uploadErr error) error {
	details := &ArchiveDetails{Bucket: a.cfg.Bucket, Key: key, Bytes: size}
	if uploadErr != nil {
		details.Error = uploadErr.Error()
		slog.Error("event log archive failed", "bucket", a.cfg.Bucket, "key", key, "error", uploadErr)
	}
	if err := a.logger.LogArchive(details); err != nil {
		slog.Warn("failed to record archive outcome", "error", err)
	}
	return uploadErr
}
