package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &manager.UploadOutput{}, nil
}

func TestTelemetryKey(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "telemetry/m1/2023-11-14/1700000000123.json", TelemetryKey("telemetry", "m1", at))
	assert.Equal(t, "t/.._x/2023-11-14/1700000000123.json", TelemetryKey("t", "../x", at))
	assert.Equal(t, "t/_/2023-11-14/1700000000123.json", TelemetryKey("t", "", at))
}

func TestArchivePut(t *testing.T) {
	up := &fakeUploader{}
	a := NewArchive(up, "bucket", "", nil)
	key, err := a.Put(context.Background(), "m1", time.UnixMilli(1700000000123), []byte(`{"ok":true}`))
	require.NoError(t, err)
	assert.Equal(t, "telemetry/m1/2023-11-14/1700000000123.json", key)
	assert.Equal(t, "bucket", aws.ToString(up.in.Bucket))
	assert.Equal(t, "application/json", aws.ToString(up.in.ContentType))
	assert.JSONEq(t, `{"ok":true}`, string(up.body))

	_, err = NewArchive(&fakeUploader{err: errors.New("denied")}, "bucket", "", nil).Put(context.Background(), "m1", time.Now(), nil)
	assert.Error(t, err)

	_, err = a.PresignedURL(context.Background(), key, time.Minute)
	assert.Error(t, err)
}
