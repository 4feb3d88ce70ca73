// Package s3util adapts Amazon S3 to the object store the thumbnail handler
// consumes: download an object to a local file, upload a local file with a
// content type, and look up an object's content type.
package s3util

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// API is the subset of *s3.Client used by Store.
type API interface {
	manager.DownloadAPIClient
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store moves objects between S3 and local scratch files.
type Store struct {
	client     API
	downloader *manager.Downloader
	uploader   *manager.Uploader
}

// NewStore creates a Store backed by client.
func NewStore(client API) *Store {
	return &Store{
		client:     client,
		downloader: manager.NewDownloader(client),
		uploader:   manager.NewUploader(client),
	}
}

// Download writes s3://bucket/key to localPath, creating or truncating it.
func (s *Store) Download(ctx context.Context, bucket, key, localPath string) error {
	log.Debug().Str("bucket", bucket).Str("key", key).Str("localPath", localPath).Msg("Downloading from S3")

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	start := time.Now()
	n, err := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	closeErr := f.Close()
	if err != nil {
		return fmt.Errorf("S3 GetObject s3://%s/%s: %w", bucket, key, err)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", localPath, closeErr)
	}

	log.Debug().Str("key", key).Int64("bytes", n).Dur("duration", time.Since(start)).Msg("Downloaded from S3")
	return nil
}

// Upload writes localPath to s3://bucket/key. Only the content type is set on
// the object; no tags, ACL or user metadata.
func (s *Store) Upload(ctx context.Context, bucket, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	start := time.Now()
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject s3://%s/%s: %w", bucket, key, err)
	}

	log.Debug().Str("key", key).Str("contentType", contentType).Dur("duration", time.Since(start)).Msg("Uploaded to S3")
	return nil
}

// ContentType returns the Content-Type stored on an object. S3 event
// notifications omit it, so the Lambda resolves it here before filtering.
func (s *Store) ContentType(ctx context.Context, bucket, key string) (string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return "", fmt.Errorf("S3 HeadObject s3://%s/%s: %w", bucket, key, err)
	}
	if out.ContentType == nil {
		return "", nil
	}
	return *out.ContentType, nil
}
