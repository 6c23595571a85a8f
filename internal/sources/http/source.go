package parcelhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/parcel/internal/engine"
	"github.com/tanq16/parcel/internal/utils"
)

// Validator tokens carry their kind so Fetch knows which precondition header
// to send.
const (
	etagPrefix = "etag:"
	datePrefix = "date:"
)

type Source struct {
	client utils.HTTPDoer
}

func New(cfg utils.HTTPClientConfig) *Source {
	return &Source{client: utils.NewParcelHTTPClient(cfg)}
}

// NewWithClient uses an existing client, such as an httptest server's.
func NewWithClient(client utils.HTTPDoer) *Source {
	return &Source{client: client}
}

func (s *Source) Probe(ctx context.Context, locator string) (*engine.Metadata, error) {
	if err := validateURL(locator); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		log.Debug().Str("op", "http/probe").Msgf("HEAD refused with %d, probing with a ranged GET", resp.StatusCode)
		return s.probeWithGet(ctx, locator)
	}
	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, err
	}
	meta := &engine.Metadata{
		Size:           resp.ContentLength,
		SupportsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		Validator:      validatorFrom(resp.Header),
		FileName:       utils.FileNameFromDisposition(resp.Header.Get("Content-Disposition")),
		ContentType:    resp.Header.Get("Content-Type"),
	}
	if meta.Size < 0 {
		meta.Size = -1
	}
	log.Debug().Str("op", "http/probe").Int64("size", meta.Size).Bool("ranges", meta.SupportsRanges).Msgf("Probed %s", locator)
	return meta, nil
}

// probeWithGet asks for the first byte. A 206 reveals the total length in
// Content-Range and proves range support.
func (s *Source) probeWithGet(ctx context.Context, locator string) (*engine.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()
	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, err
	}
	meta := &engine.Metadata{
		Size:        -1,
		Validator:   validatorFrom(resp.Header),
		FileName:    utils.FileNameFromDisposition(resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, _, total, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrProtocolViolation, err)
		}
		meta.Size = total
		meta.SupportsRanges = total >= 0
	default:
		if resp.ContentLength >= 0 {
			meta.Size = resp.ContentLength
		}
	}
	return meta, nil
}

func (s *Source) Fetch(ctx context.Context, locator string, r engine.ByteRange, validator string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: error creating request: %v", engine.ErrFatal, err)
	}
	ranged := !r.Whole()
	if ranged {
		req.Header.Set("Range", r.Header())
	}
	req.Header.Set("Connection", "keep-alive")
	setPrecondition(req.Header, validator)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if err := checkFetchStatus(resp, ranged); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if ranged {
		start, _, _, err := ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil || start != r.Start {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: asked for %s, got Content-Range %q", engine.ErrProtocolViolation, r.Header(), resp.Header.Get("Content-Range"))
		}
	}
	// Some servers ignore If-Match; compare the returned tag ourselves.
	if tag, ok := strings.CutPrefix(validator, etagPrefix); ok {
		if got := resp.Header.Get("ETag"); got != "" && got != tag {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: etag changed from %s to %s", engine.ErrValidatorMismatch, tag, got)
		}
	}
	return resp.Body, nil
}

func checkFetchStatus(resp *http.Response, ranged bool) error {
	switch resp.StatusCode {
	case http.StatusPartialContent:
		return nil
	case http.StatusOK:
		if ranged {
			return engine.ErrRangeUnsupported
		}
		return nil
	case http.StatusPreconditionFailed:
		return engine.ErrValidatorMismatch
	case http.StatusRequestedRangeNotSatisfiable:
		return engine.ErrRangeNotSatisfiable
	}
	return checkStatusCode(resp.StatusCode)
}

// checkStatusCode maps non-success status codes onto engine error classes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return fmt.Errorf("%w: status %d", engine.ErrResourceNotFound, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: access denied (%d)", engine.ErrFatal, code)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: server returned %d", engine.ErrTransient, code)
	default:
		return fmt.Errorf("%w: unexpected status code %d", engine.ErrFatal, code)
	}
}

func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", engine.ErrTransient, err)
}

// validatorFrom prefers a strong ETag and falls back to Last-Modified. Weak
// tags cannot be used with If-Match.
func validatorFrom(h http.Header) string {
	if etag := h.Get("ETag"); etag != "" && !strings.HasPrefix(etag, "W/") {
		return etagPrefix + etag
	}
	if lm := h.Get("Last-Modified"); lm != "" {
		if _, err := http.ParseTime(lm); err == nil {
			return datePrefix + lm
		}
	}
	return ""
}

func setPrecondition(h http.Header, validator string) {
	if tag, ok := strings.CutPrefix(validator, etagPrefix); ok {
		h.Set("If-Match", tag)
	} else if date, ok := strings.CutPrefix(validator, datePrefix); ok {
		h.Set("If-Unmodified-Since", date)
	}
}

func validateURL(locator string) error {
	parsed, err := url.Parse(locator)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", engine.ErrFatal, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme: %s", engine.ErrFatal, parsed.Scheme)
	}
	return nil
}

// ParseContentRange parses "bytes start-end/total". Total is -1 for "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}
	return start, end, total, nil
}
