// Package s3 fetches byte ranges of S3 objects addressed as s3://bucket/key.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/parcel/internal/engine"
)

// API is the subset of the S3 client the source needs.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Source struct {
	client API
}

func New(client API) *Source {
	return &Source{client: client}
}

// NewFromProfile loads the shared AWS configuration, optionally for a named
// profile, with adaptive retries.
func NewFromProfile(ctx context.Context, profile string) (*Source, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRetryMode(aws.RetryModeAdaptive),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	return New(s3.NewFromConfig(cfg)), nil
}

func (s *Source) Probe(ctx context.Context, locator string) (*engine.Metadata, error) {
	bucket, key, err := ParseURL(locator)
	if err != nil {
		return nil, err
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	meta := &engine.Metadata{
		Size:           -1,
		SupportsRanges: true,
		FileName:       key[strings.LastIndex(key, "/")+1:],
		ContentType:    aws.ToString(head.ContentType),
		Validator:      aws.ToString(head.ETag),
	}
	if head.ContentLength != nil {
		meta.Size = *head.ContentLength
	}
	log.Debug().Str("op", "s3/probe").Int64("size", meta.Size).Msgf("Probed s3://%s/%s", bucket, key)
	return meta, nil
}

func (s *Source) Fetch(ctx context.Context, locator string, r engine.ByteRange, validator string) (io.ReadCloser, error) {
	bucket, key, err := ParseURL(locator)
	if err != nil {
		return nil, err
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if !r.Whole() {
		input.Range = aws.String(r.Header())
	}
	if validator != "" {
		input.IfMatch = aws.String(validator)
	}
	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	if !r.Whole() && out.ContentRange == nil {
		out.Body.Close()
		return nil, engine.ErrRangeUnsupported
	}
	return out.Body, nil
}

// ParseURL splits s3://bucket/key. Prefixes ("folders") are not transferable
// resources and are rejected.
func ParseURL(locator string) (string, string, error) {
	rest, ok := strings.CutPrefix(locator, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: not an s3 locator: %s", engine.ErrFatal, locator)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%w: invalid S3 URL format, expected s3://bucket/key", engine.ErrFatal)
	}
	return bucket, key, nil
}

// mapError translates SDK failures into engine error classes, first by
// service error code and then by HTTP status.
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %v", engine.ErrResourceNotFound, err)
		case "PreconditionFailed":
			return fmt.Errorf("%w: %v", engine.ErrValidatorMismatch, err)
		case "InvalidRange":
			return fmt.Errorf("%w: %v", engine.ErrRangeNotSatisfiable, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%w: %v", engine.ErrFatal, err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return fmt.Errorf("%w: %v", engine.ErrTransient, err)
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.HTTPStatusCode(); {
		case code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", engine.ErrResourceNotFound, err)
		case code == http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %v", engine.ErrValidatorMismatch, err)
		case code == http.StatusRequestedRangeNotSatisfiable:
			return fmt.Errorf("%w: %v", engine.ErrRangeNotSatisfiable, err)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", engine.ErrFatal, err)
		}
	}
	return fmt.Errorf("%w: %v", engine.ErrTransient, err)
}
