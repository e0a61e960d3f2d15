// Package storage archives call telemetry in S3.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// FolderTelemetry is the default S3 prefix for telemetry objects.
const FolderTelemetry = "telemetry"

// Uploader is satisfied by *manager.Uploader.
type Uploader interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Archive writes telemetry reports to a bucket.
type Archive struct {
	uploader Uploader
	presign  *s3.PresignClient
	bucket   string
	prefix   string
	logger   *zap.Logger
}

// NewS3Archive creates an archive backed by an S3 multipart uploader.
func NewS3Archive(awsCfg aws.Config, bucket, prefix string, logger *zap.Logger) *Archive {
	client := s3.NewFromConfig(awsCfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
	})
	a := NewArchive(uploader, bucket, prefix, logger)
	a.presign = s3.NewPresignClient(client)
	return a
}

// NewArchive creates an archive on top of any uploader.
func NewArchive(uploader Uploader, bucket, prefix string, logger *zap.Logger) *Archive {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = FolderTelemetry
	}
	return &Archive{uploader: uploader, bucket: bucket, prefix: prefix, logger: logger}
}

// TelemetryKey returns {prefix}/{meeting_id}/{yyyy-mm-dd}/{unix_millis}.json.
func TelemetryKey(prefix, meetingID string, at time.Time) string {
	at = at.UTC()
	return path.Join(prefix, sanitize(meetingID), at.Format("2006-01-02"), fmt.Sprintf("%d.json", at.UnixMilli()))
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Put stores one report and returns its key.
func (a *Archive) Put(ctx context.Context, meetingID string, at time.Time, body []byte) (string, error) {
	key := TelemetryKey(a.prefix, meetingID, at)
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload: %w", err)
	}
	a.logger.Debug("telemetry archived", zap.String("bucket", a.bucket), zap.String("key", key))
	return key, nil
}

// PresignedURL returns a pre-signed GET URL for an archived report.
func (a *Archive) PresignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	if a.presign == nil {
		return "", fmt.Errorf("presign not available for this archive")
	}
	req, err := a.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}
