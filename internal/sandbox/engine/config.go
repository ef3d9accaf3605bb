package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"nsbox/internal/sandbox/control"
)

const (
	defaultHelperName           = "sandbox-init"
	defaultHelperStderrMaxBytes = 64 * 1024
)

// Config controls sandbox engine behavior.
type Config struct {
	// CgroupRoot is the cgroup v2 directory job cgroups are created under.
	// Empty means the parent of the supervisor's own cgroup.
	CgroupRoot string
	// HelperPath locates the sandbox-init binary. Empty means next to the
	// running executable, then $PATH.
	HelperPath string
	// Seccomp is installed in the sandbox right before exec when set.
	Seccomp *control.SeccompProfile
	// HelperStderrMaxBytes caps how much helper diagnostics are kept for logging.
	HelperStderrMaxBytes int
}

func (c Config) withDefaults() Config {
	if c.HelperStderrMaxBytes <= 0 {
		c.HelperStderrMaxBytes = defaultHelperStderrMaxBytes
	}
	return c
}

func resolveHelper(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("sandbox helper: %w", err)
		}
		return path, nil
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), defaultHelperName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	found, err := exec.LookPath(defaultHelperName)
	if err != nil {
		return "", fmt.Errorf("sandbox helper: %w", err)
	}
	return found, nil
}
