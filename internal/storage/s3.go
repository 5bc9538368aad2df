// Package storage issues presigned URLs against the S3 compatible bucket
// (MinIO in development) that holds uploaded medical documents.  File bytes
// never pass through the API process.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/iliyamo/personal-health-manager/internal/config"
)

// PresignTTL is the lifetime of every URL handed out.
const PresignTTL = 15 * time.Minute

var (
	ErrUnsupportedType = errors.New("file type not allowed")
	ErrTooLarge        = errors.New("file exceeds maximum size")
	ErrForeignKey      = errors.New("object does not belong to user")
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// Upload describes a presigned upload the client performs directly against
// the bucket.
type Upload struct {
	Key       string    `json:"document_key"`
	URL       string    `json:"upload_url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Documents presigns uploads and downloads for per-user object keys.
type Documents struct {
	presign *s3.PresignClient
	bucket  string
	maxSize int64
	allowed map[string]bool
	now     func() time.Time
}

// New builds the S3 client from cfg.  No network call is made; presigning is
// a local signing operation.
func New(ctx context.Context, cfg config.StorageConfig) (*Documents, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	allowed := make(map[string]bool, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(strings.TrimPrefix(t, "."))] = true
	}
	return &Documents{
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		maxSize: cfg.MaxFileSize,
		allowed: allowed,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Validate checks the extension of filename and the declared size and
// returns the normalized extension.
func (d *Documents) Validate(filename string, size int64) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" || !d.allowed[ext] {
		return "", ErrUnsupportedType
	}
	if size <= 0 || (d.maxSize > 0 && size > d.maxSize) {
		return "", ErrTooLarge
	}
	return ext, nil
}

// ObjectKey returns users/<userID>/<yyyy>/<mm>/<dd>/<uuid>.<ext>.
func (d *Documents) ObjectKey(userID, ext string) string {
	t := d.now()
	return fmt.Sprintf("%s%04d/%02d/%02d/%s.%s", userPrefix(userID), t.Year(), int(t.Month()), t.Day(), uuid.NewString(), ext)
}

// PresignUpload validates the request and returns a presigned PUT for a fresh
// key under the user's prefix.
func (d *Documents) PresignUpload(ctx context.Context, userID, filename, contentType string, size int64) (Upload, error) {
	ext, err := d.Validate(filename, size)
	if err != nil {
		return Upload{}, err
	}
	key := d.ObjectKey(userID, ext)
	in := &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(key),
		ContentLength: aws.Int64(size),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	req, err := presignPutObject(d.presign, ctx, in, s3.WithPresignExpires(PresignTTL))
	if err != nil {
		return Upload{}, fmt.Errorf("presign put: %w", err)
	}
	return Upload{Key: key, URL: req.URL, Method: req.Method, ExpiresAt: d.now().Add(PresignTTL)}, nil
}

// PresignDownload returns a presigned GET for key, which must live under the
// user's prefix.
func (d *Documents) PresignDownload(ctx context.Context, userID, key string) (string, time.Time, error) {
	if !strings.HasPrefix(key, userPrefix(userID)) || strings.Contains(key, "..") {
		return "", time.Time{}, ErrForeignKey
	}
	req, err := presignGetObject(d.presign, ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(PresignTTL))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign get: %w", err)
	}
	return req.URL, d.now().Add(PresignTTL), nil
}

func userPrefix(userID string) string { return "users/" + userID + "/" }
