package cache

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureLayout creates the cache directory skeleton under base and
// verifies everything in it is writable by the current process.
func EnsureLayout(base string) error {
	if base == "" {
		return fmt.Errorf("cache path is empty")
	}
	dirs := []string{
		base,
		filepath.Join(base, "records"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("create dir %s: %w", d, err)
		}
		probe := filepath.Join(d, ".writable")
		if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
			return fmt.Errorf("dir %s not writable: %w", d, err)
		}
		_ = os.Remove(probe)
	}
	return nil
}
