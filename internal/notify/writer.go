package notify

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to a temporary file beside path and renames
// it into place, so a FileWatcher on path never sees a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+sanitizeName(filepath.Base(path))+"-*.tmp")
	if err != nil {
		return fmt.Errorf("notify: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("notify: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("notify: close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("notify: chmod %s: %w", tmpName, err)
	}
	return os.Rename(tmpName, path)
}

// sanitizeName replaces characters unsafe for temp file patterns.
func sanitizeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '*' || name[i] == ':' {
			out[i] = '_'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}
