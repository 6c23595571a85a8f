package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/parcel/internal/engine"
)

type fakeAPI struct {
	head    *s3.HeadObjectOutput
	headErr error
	get     func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error)
	gets    []*s3.GetObjectInput
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return f.head, f.headErr
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.gets = append(f.gets, in)
	return f.get(in)
}

func responseError(code int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
			Err:      errors.New("request failed"),
		},
	}
}

func TestParseURL(t *testing.T) {
	bucket, key, err := ParseURL("s3://media/videos/2024/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "videos/2024/clip.mp4", key)

	for _, bad := range []string{"https://media/clip", "s3://", "s3://media", "s3://media/", "s3://media/folder/"} {
		_, _, err := ParseURL(bad)
		assert.ErrorIs(t, err, engine.ErrFatal, bad)
	}
}

func TestProbe(t *testing.T) {
	api := &fakeAPI{head: &s3.HeadObjectOutput{
		ContentLength: aws.Int64(4096),
		ETag:          aws.String(`"abc123"`),
		ContentType:   aws.String("video/mp4"),
	}}

	meta, err := New(api).Probe(context.Background(), "s3://media/videos/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(4096), meta.Size)
	assert.True(t, meta.SupportsRanges)
	assert.Equal(t, `"abc123"`, meta.Validator)
	assert.Equal(t, "clip.mp4", meta.FileName)
	assert.Equal(t, "video/mp4", meta.ContentType)
}

func TestFetchSendsRangeAndIfMatch(t *testing.T) {
	api := &fakeAPI{get: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return &s3.GetObjectOutput{
			Body:         io.NopCloser(strings.NewReader("0123456789")),
			ContentRange: aws.String("bytes 10-19/4096"),
		}, nil
	}}

	body, err := New(api).Fetch(context.Background(), "s3://media/clip.mp4", engine.ByteRange{Start: 10, End: 20}, `"abc123"`)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	require.Len(t, api.gets, 1)
	assert.Equal(t, "bytes=10-19", aws.ToString(api.gets[0].Range))
	assert.Equal(t, `"abc123"`, aws.ToString(api.gets[0].IfMatch))
	assert.Equal(t, "media", aws.ToString(api.gets[0].Bucket))
}

func TestFetchWholeObject(t *testing.T) {
	api := &fakeAPI{get: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("all"))}, nil
	}}

	body, err := New(api).Fetch(context.Background(), "s3://media/clip.mp4", engine.ByteRange{Start: 0, End: -1}, "")
	require.NoError(t, err)
	body.Close()
	assert.Nil(t, api.gets[0].Range)
	assert.Nil(t, api.gets[0].IfMatch)
}

func TestFetchWithoutContentRange(t *testing.T) {
	api := &fakeAPI{get: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("whole object"))}, nil
	}}

	_, err := New(api).Fetch(context.Background(), "s3://media/clip.mp4", engine.ByteRange{Start: 10, End: 20}, "")
	assert.ErrorIs(t, err, engine.ErrRangeUnsupported)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &smithy.GenericAPIError{Code: "NoSuchKey"}, engine.ErrResourceNotFound},
		{"precondition", &smithy.GenericAPIError{Code: "PreconditionFailed"}, engine.ErrValidatorMismatch},
		{"invalid range", &smithy.GenericAPIError{Code: "InvalidRange"}, engine.ErrRangeNotSatisfiable},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, engine.ErrFatal},
		{"slow down", &smithy.GenericAPIError{Code: "SlowDown"}, engine.ErrTransient},
		{"head 404", responseError(http.StatusNotFound), engine.ErrResourceNotFound},
		{"head 412", responseError(http.StatusPreconditionFailed), engine.ErrValidatorMismatch},
		{"head 403", responseError(http.StatusForbidden), engine.ErrFatal},
		{"server 500", responseError(http.StatusInternalServerError), engine.ErrTransient},
		{"network", errors.New("connection reset by peer"), engine.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{headErr: tt.err}
			_, err := New(api).Probe(context.Background(), "s3://media/clip.mp4")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestErrorMappingCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api := &fakeAPI{get: func(in *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
		return nil, errors.New("operation error S3: GetObject, canceled")
	}}

	_, err := New(api).Fetch(ctx, "s3://media/clip.mp4", engine.ByteRange{Start: 0, End: 10}, "")
	assert.ErrorIs(t, err, context.Canceled)
}
