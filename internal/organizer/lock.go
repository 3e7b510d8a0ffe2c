package organizer

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another run already holds the folder lock.
var ErrLocked = errors.New("another docsort run is organizing this folder")

// Lock is an advisory lock scoped to one root folder.
type Lock struct {
	fl *flock.Flock
}

// LockPath returns the lock file used for root, in the OS temp directory.
func LockPath(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return filepath.Join(os.TempDir(), fmt.Sprintf("docsort-%x.lock", sum[:8])), nil
}

// AcquireLock takes the lock for root without blocking.
func AcquireLock(root string) (*Lock, error) {
	path, err := LockPath(root)
	if err != nil {
		return nil, err
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
