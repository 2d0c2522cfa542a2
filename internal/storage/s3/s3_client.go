// Package s3 implements port.ObjectStorage for the document image bucket.
// With a custom endpoint configured it speaks path-style S3, which covers
// MinIO in development.
package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"medcoder/internal/config"
	"medcoder/internal/port"
)

type objectStore struct {
	api       *s3.Client
	uploader  *manager.Uploader
	presigner *s3.PresignClient
}

// New builds an S3-backed ObjectStorage from the storage configuration.
// Static credentials, when set, take precedence over the ambient AWS
// credential chain.
func New(cfg *config.S3Config) (port.ObjectStorage, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectStore: loading aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, endpointOptions(cfg.Endpoint)...)
	return &objectStore{
		api:       api,
		uploader:  manager.NewUploader(api),
		presigner: s3.NewPresignClient(api),
	}, nil
}

// endpointOptions switches the client to a custom path-style endpoint when
// one is configured; otherwise the default AWS resolution applies.
func endpointOptions(endpoint string) []func(*s3.Options) {
	if endpoint == "" {
		return nil
	}
	return []func(*s3.Options){func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}}
}

func (o *objectStore) Upload(ctx context.Context, input port.UploadInput) (*port.UploadOutput, error) {
	result, err := o.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(input.Bucket),
		Key:         aws.String(input.Key),
		Body:        input.Body,
		ContentType: aws.String(input.ContentType),
	})
	if err != nil {
		return nil, fmt.Errorf("objectStore.Upload %q: %w", input.Key, err)
	}

	out := &port.UploadOutput{Location: result.Location}
	if result.ETag != nil {
		out.ETag = *result.ETag
	}
	return out, nil
}

// Download reads the full object into memory. Stored documents are
// size-capped at upload time, so buffering the whole image is fine.
func (o *objectStore) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	result, err := o.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objectStore.Download %q: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("objectStore.Download %q: reading body: %w", key, err)
	}
	return data, nil
}

func (o *objectStore) Delete(ctx context.Context, bucket, key string) error {
	_, err := o.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objectStore.Delete %q: %w", key, err)
	}
	return nil
}

func (o *objectStore) GetPresignedURL(ctx context.Context, bucket, key string, expirySeconds int64) (string, error) {
	result, err := o.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(time.Duration(expirySeconds)*time.Second))
	if err != nil {
		return "", fmt.Errorf("objectStore.GetPresignedURL %q: %w", key, err)
	}
	return result.URL, nil
}
