// Package sources resolves a locator to the engine.Source that can fetch it.
package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/tanq16/parcel/internal/engine"
	"github.com/tanq16/parcel/internal/sources/azure"
	parcelhttp "github.com/tanq16/parcel/internal/sources/http"
	s3src "github.com/tanq16/parcel/internal/sources/s3"
	"github.com/tanq16/parcel/internal/utils"
)

type Config struct {
	HTTP       utils.HTTPClientConfig
	AWSProfile string
	// AzureEndpoint overrides the blob endpoint format, e.g. for Azurite.
	AzureEndpoint string
}

// Registry builds sources on first use and shares them between transfers.
type Registry struct {
	mu    sync.Mutex
	cfg   Config
	http  *parcelhttp.Source
	s3    *s3src.Source
	azure *azure.Source
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// Scheme returns the lower-cased scheme of a locator, or "" if it has none.
func Scheme(locator string) string {
	scheme, _, ok := strings.Cut(locator, "://")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

func (r *Registry) Resolve(ctx context.Context, locator string) (engine.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch Scheme(locator) {
	case "http", "https":
		if _, err := url.Parse(locator); err != nil {
			return nil, fmt.Errorf("%w: invalid URL format: %v", engine.ErrFatal, err)
		}
		if r.http == nil {
			r.http = parcelhttp.New(r.cfg.HTTP)
		}
		return r.http, nil
	case "s3":
		if r.s3 == nil {
			src, err := s3src.NewFromProfile(ctx, r.cfg.AWSProfile)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", engine.ErrFatal, err)
			}
			r.s3 = src
		}
		return r.s3, nil
	case "azblob":
		if r.azure == nil {
			if r.cfg.AzureEndpoint != "" {
				r.azure = azure.NewWithEndpoint(r.cfg.AzureEndpoint)
			} else {
				r.azure = azure.New()
			}
		}
		return r.azure, nil
	}
	return nil, fmt.Errorf("%w: unsupported locator %q (want http(s)://, s3:// or azblob://)", engine.ErrFatal, locator)
}
