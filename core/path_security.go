package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// forbiddenDirectories may never be accessed even by an otherwise-contained
// path, since a symlink or bind mount could make them resolve inside an
// allowed base.
var forbiddenDirectories = []string{
	"/etc", "/usr", "/var", "/boot", "/sys", "/proc", "/dev", "/root",
}

// PathValidator confines filesystem operations to a fixed set of allowed
// base paths, resolving symlinks before the containment check so a
// traversal through a symlink can't escape the sandbox.
type PathValidator struct {
	allowedBases []string
}

// NewPathValidator resolves each of allowedBases to an absolute,
// symlink-free form. A base that does not exist yet is kept in its
// cleaned-absolute form so the validator can be constructed before its
// directory is created.
func NewPathValidator(allowedBases []string) (*PathValidator, error) {
	if len(allowedBases) == 0 {
		return nil, NewFrameworkError("core.NewPathValidator", KindInvalidInput, ErrInvalidConfiguration)
	}
	resolved := make([]string, 0, len(allowedBases))
	for _, base := range allowedBases {
		abs, err := filepath.Abs(base)
		if err != nil {
			return nil, NewFrameworkError("core.NewPathValidator", KindInvalidInput, fmt.Errorf("resolve base path %q: %w", base, err))
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		resolved = append(resolved, abs)
	}
	return &PathValidator{allowedBases: resolved}, nil
}

// ValidatePath resolves path and checks it is contained within one of the
// validator's allowed base paths and does not target a forbidden system
// directory. allowCreation permits paths that do not exist yet (e.g. a
// segment file about to be created); otherwise the path must already exist.
func (v *PathValidator) ValidatePath(path string, allowCreation bool) (string, error) {
	if path == "" {
		return "", NewFrameworkError("core.ValidatePath", KindInvalidInput, fmt.Errorf("path must be non-empty"))
	}
	if strings.Contains(path, "..") {
		return "", NewFrameworkError("core.ValidatePath", KindSecurity, fmt.Errorf("path traversal sequence rejected: %s", path))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", NewFrameworkError("core.ValidatePath", KindInvalidInput, fmt.Errorf("resolve path %q: %w", path, err))
	}
	resolved := abs
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		resolved = real
	}

	if !v.isContained(resolved) {
		return "", NewFrameworkError("core.ValidatePath", KindSecurity, fmt.Errorf("path %s escapes allowed base paths", path))
	}
	if isForbidden(resolved) {
		return "", NewFrameworkError("core.ValidatePath", KindSecurity, fmt.Errorf("access to system directory forbidden: %s", resolved))
	}
	if !allowCreation {
		if _, err := os.Stat(resolved); err != nil {
			return "", NewFrameworkError("core.ValidatePath", KindNotFound, fmt.Errorf("path does not exist: %s", resolved))
		}
	}
	return resolved, nil
}

func (v *PathValidator) isContained(resolved string) bool {
	for _, base := range v.allowedBases {
		prefix := base
		if !strings.HasSuffix(prefix, string(filepath.Separator)) {
			prefix += string(filepath.Separator)
		}
		if resolved == base || strings.HasPrefix(resolved, prefix) {
			return true
		}
	}
	return false
}

func isForbidden(resolved string) bool {
	for _, dir := range forbiddenDirectories {
		if resolved == dir || strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
