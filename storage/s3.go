package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ruteri/tiered-storage/interfaces"
)

// Attempts at creating a missing bucket before writes give up; concurrent
// creators can race each other.
const s3BucketCreateAttempts = 3

// S3Config configures an S3Provider.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string // S3-compatible services (MinIO, R2, ...)
	AccessKey string
	SecretKey string
	PathStyle bool
}

// S3Provider implements a storage provider using Amazon S3 or compatible services.
// Objects are written with a private ACL and a sniffed content type.
type S3Provider struct {
	AccessPolicy

	client      s3iface.S3API
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string

	bucketMu    sync.Mutex
	bucketReady bool
}

// NewS3Provider creates a new S3 storage provider.
// If AccessKey and SecretKey are empty the default AWS credential chain is used.
func NewS3Provider(cfg S3Config, log *slog.Logger) (*S3Provider, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 provider: empty bucket name")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg := aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3ProviderWithClient(s3.New(sess), cfg, log), nil
}

// NewS3ProviderWithClient creates a provider around an existing client.
func NewS3ProviderWithClient(client s3iface.S3API, cfg S3Config, log *slog.Logger) *S3Provider {
	if log == nil {
		log = slog.Default()
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	uri := fmt.Sprintf("s3://%s/%s?region=%s", cfg.Bucket, prefix, cfg.Region)
	if cfg.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", cfg.Endpoint)
	}

	return &S3Provider{
		client:      client,
		bucketName:  cfg.Bucket,
		prefix:      prefix,
		log:         log,
		locationURI: uri,
	}
}

// Exists checks for the object with a HEAD request.
func (b *S3Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.head(ctx, key)
	if errors.Is(err, interfaces.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Set uploads value as the key's object.
func (b *S3Provider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return b.put(ctx, key, bytes.NewReader(value), mimetype.Detect(value).String())
}

// SetStream uploads the remainder of r and restores its position.
func (b *S3Provider) SetStream(ctx context.Context, key string, r io.ReadSeeker, ttl time.Duration) (bool, error) {
	start, remaining, err := streamExtent(r)
	if err != nil {
		return false, err
	}
	defer r.Seek(start, io.SeekStart)

	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return false, fmt.Errorf("failed to detect mime type: %w", err)
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return false, fmt.Errorf("failed to rewind stream: %w", err)
	}

	body := &sectionSeeker{r: r, start: start, size: remaining}
	return b.put(ctx, key, body, mtype.String())
}

// SetFile uploads the file at path.
func (b *S3Provider) SetFile(ctx context.Context, key string, path string, ttl time.Duration) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	return b.SetStream(ctx, key, f, ttl)
}

// Get retrieves the key's object. Returns ErrNotFound if the object doesn't exist.
func (b *S3Provider) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()

	body, err := b.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		b.log.Error("Failed to read object body",
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	b.log.Debug("Fetched object from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// GetStream returns the object body.
func (b *S3Provider) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, interfaces.ErrNotFound
		}
		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err)
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return result.Body, nil
}

// GetInfo returns LastModified, ETag, ContentType and ContentLength.
func (b *S3Provider) GetInfo(ctx context.Context, key string) (*interfaces.Info, error) {
	out, err := b.head(ctx, key)
	if err != nil {
		return nil, err
	}

	return &interfaces.Info{
		ModTime: out.LastModified,
		Hash:    strings.Trim(aws.StringValue(out.ETag), `"`),
		Type:    aws.StringValue(out.ContentType),
		Size:    out.ContentLength,
	}, nil
}

// Delete removes the key's object, reporting whether it existed.
func (b *S3Provider) Delete(ctx context.Context, key string) (bool, error) {
	exists, err := b.Exists(ctx, key)
	if err != nil || !exists {
		return false, err
	}

	_, err = b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return true, nil
}

// Name returns a unique identifier for this storage provider.
func (b *S3Provider) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this storage provider.
func (b *S3Provider) LocationURI() string {
	return b.locationURI
}

func (b *S3Provider) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	out, err := b.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to head object in S3: %w", err)
	}
	return out, nil
}

func (b *S3Provider) put(ctx context.Context, key string, body io.ReadSeeker, contentType string) (bool, error) {
	if err := b.ensureBucket(ctx); err != nil {
		return false, err
	}

	start := time.Now()
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(b.objectKey(key)),
		Body:        body,
		ACL:         aws.String(s3.ObjectCannedACLPrivate),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return false, fmt.Errorf("failed to upload object to S3: %w", err)
	}

	b.log.Debug("Stored object in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))
	return true, nil
}

// ensureBucket creates the bucket on first write if it is missing.
func (b *S3Provider) ensureBucket(ctx context.Context) error {
	b.bucketMu.Lock()
	defer b.bucketMu.Unlock()
	if b.bucketReady {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= s3BucketCreateAttempts; attempt++ {
		_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(b.bucketName),
		})
		if err == nil {
			b.bucketReady = true
			return nil
		}
		if !isS3NotFound(err) {
			return fmt.Errorf("failed to check S3 bucket: %w", err)
		}

		_, err = b.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{
			Bucket: aws.String(b.bucketName),
			ACL:    aws.String(s3.BucketCannedACLPrivate),
		})
		if err == nil || isS3Code(err, s3.ErrCodeBucketAlreadyOwnedByYou) {
			b.bucketReady = true
			return nil
		}
		lastErr = err
		b.log.Warn("Failed to create S3 bucket",
			slog.String("bucket", b.bucketName),
			slog.Int("attempt", attempt),
			"err", err)
	}
	return fmt.Errorf("unable to create S3 bucket %s: %w", b.bucketName, lastErr)
}

// objectKey generates an S3 object key below the configured prefix.
func (b *S3Provider) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

func isS3NotFound(err error) bool {
	return isS3Code(err, s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound")
}

func isS3Code(err error, codes ...string) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	for _, c := range codes {
		if aerr.Code() == c {
			return true
		}
	}
	return false
}

// sectionSeeker exposes r from start onwards as an independent ReadSeeker
// whose offset 0 is start, so the SDK can rewind for retries.
type sectionSeeker struct {
	r     io.ReadSeeker
	start int64
	size  int64
	pos   int64
}

func (s *sectionSeeker) Read(p []byte) (int, error) {
	if s.pos >= s.size {
		return 0, io.EOF
	}
	if rem := s.size - s.pos; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := s.r.Read(p)
	s.pos += int64(n)
	return n, err
}

func (s *sectionSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		abs = s.size + offset
	default:
		return 0, errors.New("sectionSeeker: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("sectionSeeker: negative position")
	}
	if _, err := s.r.Seek(s.start+abs, io.SeekStart); err != nil {
		return 0, err
	}
	s.pos = abs
	return abs, nil
}
