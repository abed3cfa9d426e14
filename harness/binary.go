package harness

import (
	"fmt"
	"os"
	"os/exec"
)

// DefaultBinary is the ab executable looked up on PATH.
const DefaultBinary = "ab"

// ResolveBinary returns the ab binary to run. An explicit path must
// exist; otherwise ab is looked up on PATH.
func ResolveBinary(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("ab binary not found at %s: %w", path, err)
		}

		return path, nil
	}

	resolved, err := exec.LookPath(DefaultBinary)
	if err != nil {
		return "", fmt.Errorf("look up %s on PATH: %w", DefaultBinary, err)
	}

	return resolved, nil
}
