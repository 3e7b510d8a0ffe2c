package organizer

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// ConflictPolicy decides what happens when the destination already exists.
type ConflictPolicy string

const (
	ConflictSkip      ConflictPolicy = "skip"
	ConflictRename    ConflictPolicy = "rename"
	ConflictOverwrite ConflictPolicy = "overwrite"
)

// ErrDestinationExists is wrapped by MoveError under the skip policy.
var ErrDestinationExists = errors.New("destination already exists")

// MoveError reports a failed move. The source file is left in place.
type MoveError struct {
	Source string
	Target string
	Err    error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s to %s: %v", e.Source, e.Target, e.Err)
}

func (e *MoveError) Unwrap() error {
	return e.Err
}

// Mover relocates files into label folders.
type Mover struct {
	Policy ConflictPolicy

	rename func(oldpath, newpath string) error
}

func NewMover(policy ConflictPolicy) *Mover {
	if policy == "" {
		policy = ConflictSkip
	}
	return &Mover{Policy: policy, rename: os.Rename}
}

// Move creates dir if needed and moves src into it keeping the file name.
// It returns the final destination path.
func (m *Mover) Move(src, dir string) (string, error) {
	dest := filepath.Join(dir, filepath.Base(src))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &MoveError{Source: src, Target: dest, Err: fmt.Errorf("create folder: %w", err)}
	}

	if _, err := os.Lstat(dest); err == nil {
		switch m.Policy {
		case ConflictOverwrite:
		case ConflictRename:
			free, err := nextFreeName(dest)
			if err != nil {
				return "", &MoveError{Source: src, Target: dest, Err: err}
			}
			dest = free
		default:
			return "", &MoveError{Source: src, Target: dest, Err: ErrDestinationExists}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", &MoveError{Source: src, Target: dest, Err: err}
	}

	err := m.rename(src, dest)
	if errors.Is(err, syscall.EXDEV) {
		err = moveAcrossDevices(src, dest)
	}
	if err != nil {
		return "", &MoveError{Source: src, Target: dest, Err: err}
	}
	return dest, nil
}

// nextFreeName returns "name (n).ext" for the lowest n not yet taken.
func nextFreeName(dest string) (string, error) {
	dir := filepath.Dir(dest)
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(filepath.Base(dest), ext)
	for n := 1; n < 10000; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free name for %s", dest)
}

func moveAcrossDevices(src, dest string) error {
	if err := copyFileVerified(src, dest); err != nil {
		return fmt.Errorf("copy across devices: %w", err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// copyFileVerified copies src to dst and compares sizes and SHA-256 digests
// of both files. dst is removed on mismatch.
func copyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	written, err := io.Copy(out, io.TeeReader(in, srcHasher))
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if written != srcInfo.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}

	dstSum, err := fileDigest(dst)
	if err != nil {
		_ = os.Remove(dst)
		return err
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstSum) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

func fileDigest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
