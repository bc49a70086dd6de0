package common

import (
	"fmt"
	"os"
)

// EnsureDir creates directory `path` and all missing parents.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %s", path, err)
	}
	return nil
}
