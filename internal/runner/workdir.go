package runner

import (
	"fmt"
	"os"
)

// nukeWorkDir removes the work directory recursively and recreates it
// empty. Called at construction and before every run so that stale
// output never leaks across runs.
func (r *Runner) nukeWorkDir() error {
	dir := r.paths.WorkDir()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove work dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to recreate work dir %s: %w", dir, err)
	}
	return nil
}
