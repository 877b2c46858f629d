package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// ItfS3 fetches the model artifact from a bucket before it is loaded.
type ItfS3 interface {
	DownloadFile(ctx context.Context, key, dest string) (int64, error)
}

type Options struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type s3Client struct {
	downloader *s3manager.Downloader
	bucketName string
}

func New(opts Options) (ItfS3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	sess, err := newSession(opts)
	if err != nil {
		return nil, err
	}

	return &s3Client{
		downloader: s3manager.NewDownloader(sess),
		bucketName: opts.Bucket,
	}, nil
}

// DownloadFile writes the object at key to dest. The file is written next to
// dest first and renamed into place, so a failed download never leaves a
// partial artifact behind.
func (s *s3Client) DownloadFile(ctx context.Context, key, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := s.downloader.DownloadWithContext(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to download s3://%s/%s: %w", s.bucketName, key, err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("failed to move artifact into place: %w", err)
	}

	return n, nil
}

func newSession(opts Options) (*session.Session, error) {
	cfg := &aws.Config{
		Region: aws.String(opts.Region),
	}
	if opts.AccessKeyID != "" {
		cfg.Credentials = credentials.NewStaticCredentials(opts.AccessKeyID, opts.SecretAccessKey, "")
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}

	return sess, nil
}
