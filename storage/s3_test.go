package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

// fakeS3 is an in-memory subset of the S3 API.
type fakeS3 struct {
	s3iface.S3API

	mu          sync.Mutex
	buckets     map[string]bool
	objects     map[string]fakeObject
	createCalls int
	failHead    error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: map[string]bool{}, objects: map[string]fakeObject{}}
}

func (f *fakeS3) HeadBucketWithContext(_ aws.Context, in *s3.HeadBucketInput, _ ...request.Option) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets[aws.StringValue(in.Bucket)] {
		return nil, awserr.New("NotFound", "bucket not found", nil)
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucketWithContext(_ aws.Context, in *s3.CreateBucketInput, _ ...request.Option) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.buckets[aws.StringValue(in.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(in.Key)] = fakeObject{
		data:        data,
		contentType: aws.StringValue(in.ContentType),
		modified:    time.Now(),
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) lookup(key *string) (fakeObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.StringValue(key)]
	if !ok {
		return fakeObject{}, awserr.New(s3.ErrCodeNoSuchKey, "no such key", nil)
	}
	return obj, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	obj, err := f.lookup(in.Key)
	if err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	if f.failHead != nil {
		return nil, f.failHead
	}
	obj, err := f.lookup(in.Key)
	if err != nil {
		// HEAD responses carry no body, so S3 reports a bare NotFound.
		return nil, awserr.New("NotFound", "not found", nil)
	}
	sum := md5.Sum(obj.data)
	return &s3.HeadObjectOutput{
		LastModified:  aws.Time(obj.modified),
		ETag:          aws.String(`"` + hex.EncodeToString(sum[:]) + `"`),
		ContentType:   aws.String(obj.contentType),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (f *fakeS3) DeleteObjectWithContext(_ aws.Context, in *s3.DeleteObjectInput, _ ...request.Option) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.StringValue(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func newTestS3(t *testing.T) (*S3Provider, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	p := NewS3ProviderWithClient(fake, S3Config{Bucket: "bucket", Prefix: "/tiered/", Region: "eu-west-1"}, testLogger())
	return p, fake
}

func TestS3Provider_Contract(t *testing.T) {
	p, _ := newTestS3(t)
	testProviderContract(t, p)
}

func TestS3Provider_BucketCreatedOnce(t *testing.T) {
	ctx := context.Background()
	p, fake := newTestS3(t)

	for _, key := range []string{"a", "b", "c"} {
		ok, err := p.Set(ctx, key, []byte("v"), 0)
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, 1, fake.createCalls)
	assert.Contains(t, fake.objects, "tiered/a")
}

func TestS3Provider_Identity(t *testing.T) {
	p, _ := newTestS3(t)

	assert.Equal(t, "s3-bucket", p.Name())
	assert.Equal(t, "s3://bucket/tiered?region=eu-west-1", p.LocationURI())
}

func TestS3Provider_BackendFault(t *testing.T) {
	p, fake := newTestS3(t)
	fake.failHead = awserr.New("AccessDenied", "denied", nil)

	_, err := p.Exists(context.Background(), "k")
	require.Error(t, err)
}
