package fs

import (
	"bytes"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// skippedDirs are never walked when expanding context includes.
var skippedDirs = map[string]struct{}{
	".git":         {},
	".coda":        {},
	"node_modules": {},
	"vendor":       {},
}

// ExpandIncludes turns a list of files and directories (relative to the
// project root) into a sorted list of normalized file paths.
func (r *PathResolver) ExpandIncludes(includes []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, inc := range includes {
		rel, err := NormalizePath(inc)
		if err != nil {
			return nil, fmt.Errorf("invalid include %q: %w", inc, err)
		}
		abs := r.Resolve(rel)
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("include %q: %w", inc, err)
		}
		if !info.IsDir() {
			seen[rel] = struct{}{}
			continue
		}
		err = filepath.WalkDir(abs, func(p string, d iofs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if _, skip := skippedDirs[d.Name()]; skip && p != abs {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			relPath, err := r.Relative(p)
			if err != nil {
				return nil
			}
			seen[relPath] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %q: %w", inc, err)
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Snapshot renders the given files as prompt context. Binary files are
// skipped; files are added in order until maxBytes would be exceeded.
// It returns the rendered text and the paths that made it in.
func (r *PathResolver) Snapshot(paths []string, maxBytes int) (string, []string) {
	var b strings.Builder
	var included []string
	for _, rel := range paths {
		data, err := os.ReadFile(r.Resolve(rel))
		if err != nil || isBinary(data) {
			continue
		}
		block := fmt.Sprintf("File: %s\n```\n%s\n```\n\n", rel, strings.TrimRight(string(data), "\n"))
		if maxBytes > 0 && b.Len()+len(block) > maxBytes {
			continue
		}
		b.WriteString(block)
		included = append(included, rel)
	}
	return b.String(), included
}

func isBinary(data []byte) bool {
	head := data
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}
