package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"nutrikb/config"
)

// ObjectAPI ist der Teil des S3-Clients, den dieses Paket braucht. *s3.Client erfüllt es.
type ObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var _ ObjectAPI = (*s3.Client)(nil)

// Endpoint beschreibt einen S3-kompatiblen Speicher (AWS, Strato, MinIO).
type Endpoint struct {
	URL    string
	Region string
	Key    string
	Secret string
}

// EndpointFromConfig übernimmt die S3-Einstellungen der Anwendung.
func EndpointFromConfig(cfg *config.Config) Endpoint {
	return Endpoint{URL: cfg.S3URL, Region: cfg.S3Region, Key: cfg.S3Key, Secret: cfg.S3Secret}
}

// NewS3Client erstellt einen S3-Client mit statischen Zugangsdaten.
// Bei gesetzter URL wird Path-Style verwendet, da Nicht-AWS-Anbieter keine Bucket-Subdomains auflösen.
func NewS3Client(ctx context.Context, ep Endpoint) (*s3.Client, error) {
	if ep.Key == "" || ep.Secret == "" {
		return nil, errors.New("s3 credentials missing")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(ep.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(ep.Key, ep.Secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if ep.URL != "" {
			o.BaseEndpoint = aws.String(ep.URL)
			o.UsePathStyle = true
		}
	}), nil
}

// UploadFile lädt Daten hoch und gibt die s3:// Adresse zurück.
func UploadFile(ctx context.Context, api ObjectAPI, bucket, key string, data []byte, contentType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := api.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return "s3://" + bucket + "/" + key, nil
}

// ParseS3URL zerlegt s3://bucket/key. ok ist false für alles andere.
func ParseS3URL(raw string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(raw, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
