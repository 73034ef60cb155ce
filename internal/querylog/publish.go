package querylog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
)

// TempPath returns a fresh hidden path beside live, so publishing it is a
// same-directory rename.
func TempPath(live string) string {
	dir, base := filepath.Split(live)
	return filepath.Join(dir, "."+base+".merge-"+uuid.NewString())
}

// Publish moves the merged file at tmp onto live, keeping live's permission
// bits when live exists.
func Publish(tmp, live string) error {
	if fi, err := os.Stat(live); err == nil {
		if err := os.Chmod(tmp, fi.Mode().Perm()); err != nil {
			return fmt.Errorf("publish %s: %w", tmp, err)
		}
	}

	err := os.Rename(tmp, live)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("publish %s to %s: %w", tmp, live, err)
	}

	// Cross-device: copy beside live first so the final step is still a rename.
	staged := TempPath(live)
	if err := copyFile(tmp, staged); err != nil {
		os.Remove(staged)
		return fmt.Errorf("publish %s to %s: %w", tmp, live, err)
	}
	if err := os.Rename(staged, live); err != nil {
		os.Remove(staged)
		return fmt.Errorf("publish %s to %s: %w", tmp, live, err)
	}
	return os.Remove(tmp)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
