package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
)

// ErrPathEscapesRoot is returned for paths that point outside the project.
var ErrPathEscapesRoot = errors.New("path escapes the project root")

// NormalizePath turns a model- or user-supplied path into the canonical form
// used as a map key everywhere: slash-separated, relative, no leading or
// trailing separators. Paths that climb out of the project are rejected.
func NormalizePath(p string) (string, error) {
	raw := strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	raw = strings.TrimPrefix(raw, "./")
	raw = strings.TrimLeft(raw, "/")
	if raw == "" {
		return "", errors.New("empty path")
	}
	cleaned := path.Clean(raw)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%q: %w", p, ErrPathEscapesRoot)
	}
	cleaned = strings.Trim(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("%q does not name a file", p)
	}
	return cleaned, nil
}

// PathResolver maps normalized relative paths onto the project directory.
type PathResolver struct {
	root string
}

// NewPathResolver creates a new PathResolver rooted at root.
func NewPathResolver(root string) (*PathResolver, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not get current working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid project root %q: %w", root, err)
	}
	return &PathResolver{root: abs}, nil
}

// Root returns the absolute project directory.
func (r *PathResolver) Root() string {
	return r.root
}

// Resolve returns the absolute path of a normalized relative path.
func (r *PathResolver) Resolve(relativePath string) string {
	return filepath.Join(r.root, filepath.FromSlash(relativePath))
}

// Relative converts an absolute path back to the normalized relative form.
func (r *PathResolver) Relative(absPath string) (string, error) {
	rel, err := filepath.Rel(r.root, absPath)
	if err != nil {
		return "", err
	}
	return NormalizePath(filepath.ToSlash(rel))
}

// ReadCurrent returns the content of a file, or "" and false if it does not
// exist. A path below a regular file does not exist either.
func ReadCurrent(absPath string) (string, bool, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// Exists reports whether a regular file or directory exists at absPath.
func Exists(absPath string) bool {
	_, err := os.Stat(absPath)
	return err == nil
}

// beforeCommit runs after the scratch copy is written and before the target
// is touched. Tests replace it to simulate a crash at that point.
var beforeCommit = func(tmpPath, target string) error { return nil }

// WriteAtomic writes data to a fresh file in a scratch directory, then moves
// or copies it over target and removes the scratch directory. The target is
// never written while content is still being produced.
func WriteAtomic(target string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("could not create parent directory: %w", err)
	}

	perm := os.FileMode(0644)
	if st, err := os.Stat(target); err == nil {
		perm = st.Mode().Perm()
	}

	scratch, err := os.MkdirTemp("", "coda-commit-")
	if err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	tmpPath := filepath.Join(scratch, filepath.Base(target))
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write scratch file: %w", err)
	}
	if err := beforeCommit(tmpPath, target); err != nil {
		return err
	}

	// Rename is atomic when the scratch dir shares a filesystem with the
	// target; otherwise fall back to copying.
	if err := os.Rename(tmpPath, target); err == nil {
		return nil
	}
	return copyFile(tmpPath, target, perm)
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s over %s: %w", src, dst, err)
	}
	return out.Close()
}

// Remove deletes a file. A file that is already gone reports removed=false
// without an error.
func Remove(absPath string) (removed bool, err error) {
	if err := os.Remove(absPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetFileSHA256 calculates the SHA256 hash of a file's content.
func GetFileSHA256(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
