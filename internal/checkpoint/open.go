package checkpoint

import (
	"fmt"
	"path/filepath"
)

const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Open returns the store for the named backend rooted at dir.
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(dir)
	case BackendBadger:
		return OpenBadgerStore(filepath.Join(dir, "checkpoints.db"))
	}
	return nil, fmt.Errorf("unknown checkpoint backend: %s", backend)
}
