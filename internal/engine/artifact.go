package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// TempDirName holds in-flight artifacts next to their destination.
const TempDirName = ".parcel-temp"

// ArtifactPath is where a destination is assembled before the final rename.
func ArtifactPath(destination string) string {
	return filepath.Join(filepath.Dir(destination), TempDirName, filepath.Base(destination)+".part")
}

// artifact is the pre-allocated file that segments write into at their own
// offsets. Workers own disjoint ranges so WriteAt needs no locking.
type artifact struct {
	path string
	f    *os.File
}

// openArtifact opens the artifact for writing. fresh discards whatever was
// there before; size >= 0 pre-allocates the file to that length.
func openArtifact(path string, size int64, fresh bool) (*artifact, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: error creating temp directory: %v", ErrDiskIO, err)
	}
	flag := os.O_RDWR | os.O_CREATE
	if fresh {
		flag |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: error opening artifact: %v", ErrDiskIO, err)
	}
	if size >= 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: error pre-allocating artifact: %v", ErrDiskIO, err)
		}
	}
	return &artifact{path: path, f: f}, nil
}

// artifactSize returns the on-disk size of an existing artifact, or -1 if it
// does not exist.
func artifactSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return info.Size()
}

func (a *artifact) WriteAt(p []byte, off int64) (int, error) {
	n, err := a.f.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrDiskIO, err)
	}
	return n, nil
}

func (a *artifact) Truncate(size int64) error {
	if err := a.f.Truncate(size); err != nil {
		return fmt.Errorf("%w: %v", ErrDiskIO, err)
	}
	return nil
}

func (a *artifact) Sync() error {
	if err := a.f.Sync(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrDiskIO, err)
	}
	return nil
}

func (a *artifact) Size() (int64, error) {
	info, err := a.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDiskIO, err)
	}
	return info.Size(), nil
}

func (a *artifact) Close() error {
	err := a.f.Close()
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrDiskIO, err)
	}
	return nil
}
