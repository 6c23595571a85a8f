package engine

import (
	"context"
	"fmt"
	"io"
)

// Metadata is the result of a metadata-only probe of a resource.
type Metadata struct {
	// Size is -1 when the server did not report a length.
	Size           int64
	SupportsRanges bool
	// Validator is a strong identity token for the current content, empty if
	// the server offers none.
	Validator   string
	FileName    string
	ContentType string
}

// ByteRange is half-open [Start, End). End of -1 means "to the end of the
// resource".
type ByteRange struct {
	Start int64
	End   int64
}

// Whole reports whether the range asks for the full resource from offset 0.
func (r ByteRange) Whole() bool {
	return r.Start == 0 && r.End < 0
}

// Header renders the range in HTTP Range header form (inclusive end).
func (r ByteRange) Header() string {
	if r.End < 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

func (r ByteRange) Len() int64 {
	if r.End < 0 {
		return -1
	}
	return r.End - r.Start
}

// Source is the connection capability the engine consumes. Implementations
// must honor a non-empty validator as a precondition and return
// ErrValidatorMismatch when it fails, ErrRangeUnsupported when a partial
// request is answered with full content, and ErrRangeNotSatisfiable when the
// server rejects the range itself.
type Source interface {
	Probe(ctx context.Context, locator string) (*Metadata, error)
	Fetch(ctx context.Context, locator string, r ByteRange, validator string) (io.ReadCloser, error)
}
