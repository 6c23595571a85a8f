// Package azure fetches byte ranges of Azure blobs addressed as
// azblob://account/container/blob.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/parcel/internal/engine"
)

const scheme = "azblob://"

type Source struct {
	credential  credentialFunc
	endpointFmt string
}

type credentialFunc func(account string) (azblob.Credential, error)

// New builds a source that signs requests with AZURE_STORAGE_KEY when it is
// set for the requested account and falls back to anonymous access, which
// works for public containers and SAS-less public blobs.
func New() *Source {
	return &Source{credential: envCredential, endpointFmt: "https://%s.blob.core.windows.net"}
}

// NewWithEndpoint targets a custom endpoint format such as an Azurite
// emulator ("http://127.0.0.1:10000/%s").
func NewWithEndpoint(endpointFmt string) *Source {
	return &Source{credential: envCredential, endpointFmt: endpointFmt}
}

func envCredential(account string) (azblob.Credential, error) {
	name := os.Getenv("AZURE_STORAGE_ACCOUNT")
	key := os.Getenv("AZURE_STORAGE_KEY")
	if key != "" && (name == "" || name == account) {
		cred, err := azblob.NewSharedKeyCredential(account, key)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid storage key: %v", engine.ErrFatal, err)
		}
		return cred, nil
	}
	return azblob.NewAnonymousCredential(), nil
}

func (s *Source) blobURL(locator string) (azblob.BlobURL, error) {
	account, container, blob, err := ParseURL(locator)
	if err != nil {
		return azblob.BlobURL{}, err
	}
	cred, err := s.credential(account)
	if err != nil {
		return azblob.BlobURL{}, err
	}
	raw := fmt.Sprintf(s.endpointFmt, account) + "/" + container + "/" + blob
	u, err := url.Parse(raw)
	if err != nil {
		return azblob.BlobURL{}, fmt.Errorf("%w: invalid blob URL: %v", engine.ErrFatal, err)
	}
	p := azblob.NewPipeline(cred, azblob.PipelineOptions{})
	return azblob.NewBlobURL(*u, p), nil
}

func (s *Source) Probe(ctx context.Context, locator string) (*engine.Metadata, error) {
	blobURL, err := s.blobURL(locator)
	if err != nil {
		return nil, err
	}
	props, err := blobURL.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	_, _, name, _ := ParseURL(locator)
	meta := &engine.Metadata{
		Size:           props.ContentLength(),
		SupportsRanges: true,
		Validator:      string(props.ETag()),
		FileName:       name[strings.LastIndex(name, "/")+1:],
		ContentType:    props.ContentType(),
	}
	log.Debug().Str("op", "azure/probe").Int64("size", meta.Size).Msgf("Probed %s", locator)
	return meta, nil
}

func (s *Source) Fetch(ctx context.Context, locator string, r engine.ByteRange, validator string) (io.ReadCloser, error) {
	blobURL, err := s.blobURL(locator)
	if err != nil {
		return nil, err
	}
	count := int64(azblob.CountToEnd)
	if r.End >= 0 {
		count = r.Len()
	}
	ac := azblob.BlobAccessConditions{}
	if validator != "" {
		ac.ModifiedAccessConditions.IfMatch = azblob.ETag(validator)
	}
	resp, err := blobURL.Download(ctx, r.Start, count, ac, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	// Retries are the engine's job; the body is read once.
	return resp.Body(azblob.RetryReaderOptions{MaxRetryRequests: 0}), nil
}

// ParseURL splits azblob://account/container/blob.
func ParseURL(locator string) (account, container, blob string, err error) {
	rest, ok := strings.CutPrefix(locator, scheme)
	if !ok {
		return "", "", "", fmt.Errorf("%w: not an azblob locator: %s", engine.ErrFatal, locator)
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("%w: invalid blob URL format, expected azblob://account/container/blob", engine.ErrFatal)
	}
	return parts[0], parts[1], parts[2], nil
}

func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var serr azblob.StorageError
	if errors.As(err, &serr) {
		switch serr.ServiceCode() {
		case azblob.ServiceCodeBlobNotFound, azblob.ServiceCodeContainerNotFound, azblob.ServiceCodeResourceNotFound:
			return fmt.Errorf("%w: %v", engine.ErrResourceNotFound, err)
		case azblob.ServiceCodeConditionNotMet:
			return fmt.Errorf("%w: %v", engine.ErrValidatorMismatch, err)
		case azblob.ServiceCodeInvalidRange:
			return fmt.Errorf("%w: %v", engine.ErrRangeNotSatisfiable, err)
		case azblob.ServiceCodeAuthenticationFailed, azblob.ServiceCodeInsufficientAccountPermissions:
			return fmt.Errorf("%w: %v", engine.ErrFatal, err)
		}
		if resp := serr.Response(); resp != nil {
			switch code := resp.StatusCode; {
			case code == http.StatusNotFound:
				return fmt.Errorf("%w: %v", engine.ErrResourceNotFound, err)
			case code == http.StatusPreconditionFailed:
				return fmt.Errorf("%w: %v", engine.ErrValidatorMismatch, err)
			case code == http.StatusUnauthorized || code == http.StatusForbidden:
				return fmt.Errorf("%w: %v", engine.ErrFatal, err)
			}
		}
	}
	return fmt.Errorf("%w: %v", engine.ErrTransient, err)
}
