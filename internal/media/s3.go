// internal/media/s3.go
// Package media provides S3-compatible storage for catch photos.
// The reconciler offloads locally-stored photo blobs to a bucket during
// sync so the feed service can serve them without touching the vault.
package media

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader wraps the AWS S3 client for photo offload during sync.
// It supports both AWS S3 and S3-compatible services like MinIO.
type Uploader struct {
	client *s3.Client // AWS S3 client
	bucket string     // S3 bucket name for photo storage
}

// NewUploader creates a new S3 uploader for catch photos.
// Parameters:
//   - endpoint: S3 service endpoint URL
//   - region: AWS region (or equivalent for S3-compatible services)
//   - bucket: S3 bucket name for photo storage
//   - accessKey: Access key for authentication
//   - secretKey: Secret key for authentication
// Returns:
//   - *Uploader: Initialized uploader
//   - error: Any error that occurred during initialization
func NewUploader(endpoint, region, bucket, accessKey, secretKey string) (*Uploader, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Path-style addressing is required for MinIO and other S3-compatible services
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &Uploader{
		client: client,
		bucket: bucket,
	}, nil
}

// PutPhoto uploads a photo blob under its image-store key.
// The content type is sniffed from the payload when the caller has none.
// Parameters:
//   - ctx: Context for the operation
//   - key: Object key, the same key the local image store uses
//   - data: Raw photo bytes
//   - contentType: MIME type, empty to sniff from the payload
// Returns:
//   - error: Any error that occurred during upload
func (u *Uploader) PutPhoto(ctx context.Context, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload photo: %w", err)
	}

	return nil
}

// GenerateDownloadURL generates a presigned URL for fetching a photo,
// letting the feed service link to the blob without vault credentials.
// Parameters:
//   - ctx: Context for the operation
//   - key: Object key to presign
//   - expires: Duration until the presigned URL expires
// Returns:
//   - string: Presigned URL for downloading
//   - error: Any error that occurred during URL generation
func (u *Uploader) GenerateDownloadURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(u.client)

	presignResult, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignResult.URL, nil
}
