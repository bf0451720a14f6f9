package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/civitas-pay/payroll-provisioning-backend/interfaces"
)

// s3Blob stores the identity document as a single object in Amazon S3 or
// a compatible service.
type s3Blob struct {
	client *s3.S3
	bucket string
	key    string
}

// NewS3Store opens an identity store backed by an S3 object. Credentials
// are required; this backend always needs write access. An empty endpoint
// uses AWS proper, a non-empty one targets S3-compatible services.
func NewS3Store(bucket, key, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*DocumentStore, error) {
	cfg := aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(accessKey, secretKey, ""),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create S3 session: %v", interfaces.ErrConfiguration, err)
	}

	blob := &s3Blob{client: s3.New(sess), bucket: bucket, key: strings.TrimPrefix(key, "/")}
	return newDocumentStore(context.Background(), blob, log)
}

func (b *s3Blob) Load(ctx context.Context) ([]byte, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound") {
			return nil, errNoDocument
		}
		return nil, fmt.Errorf("failed to fetch s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return data, nil
}

func (b *s3Blob) Save(ctx context.Context, data []byte) error {
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to store s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}

func (b *s3Blob) Name() string {
	return fmt.Sprintf("s3-%s", b.bucket)
}
