// Package querylog implements the file steps around a merge: backing up the
// live log as this instance's shard, finding every shard, publishing the
// merged result, locking the shared backup directory and recording runs.
package querylog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// ErrNotFound is returned when a caller-supplied path does not exist.
var ErrNotFound = errors.New("not found")

// ShardName returns the backup file name used for an instance.
func ShardName(name string, compress bool) string {
	if compress {
		return "querylog-" + name + ".json.zst"
	}
	return "querylog-" + name + ".json"
}

// CheckPaths verifies the live log is a file and backup a directory.
func CheckPaths(live, backupDir string) error {
	fi, err := os.Stat(live)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("querylog file %s: %w", live, ErrNotFound)
		}
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("querylog %s is a directory", live)
	}

	fi, err = os.Stat(backupDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("backup directory %s: %w", backupDir, ErrNotFound)
		}
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("backup %s is not a directory", backupDir)
	}
	return nil
}

// Backup copies the live querylog into backupDir as this instance's shard,
// replacing any earlier copy. The shard appears atomically and keeps the
// source modification time.
func Backup(live, backupDir, name string, compress bool) (string, error) {
	src, err := os.Open(live)
	if err != nil {
		return "", fmt.Errorf("open querylog %s: %w", live, err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return "", err
	}

	dest := filepath.Join(backupDir, ShardName(name, compress))
	tmp, err := os.CreateTemp(backupDir, ".backup-*")
	if err != nil {
		return "", fmt.Errorf("create backup in %s: %w", backupDir, err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) (string, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("backup %s to %s: %w", live, dest, err)
	}

	if compress {
		enc, err := zstd.NewWriter(tmp)
		if err != nil {
			return fail(err)
		}
		if _, err := io.Copy(enc, src); err != nil {
			enc.Close()
			return fail(err)
		}
		if err := enc.Close(); err != nil {
			return fail(err)
		}
	} else if _, err := io.Copy(tmp, src); err != nil {
		return fail(err)
	}

	if err := tmp.Chmod(fi.Mode().Perm()); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Chtimes(tmpPath, fi.ModTime(), fi.ModTime()); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("backup %s to %s: %w", live, dest, err)
	}

	// The other compression variant would be merged twice.
	stale := filepath.Join(backupDir, ShardName(name, !compress))
	if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
		return dest, fmt.Errorf("remove stale shard %s: %w", stale, err)
	}
	return dest, nil
}
