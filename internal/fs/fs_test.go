package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"a.ts":             "a.ts",
		"./src/main.go":    "src/main.go",
		"/src/main.go/":    "src/main.go",
		"src\\pkg\\x.go":   "src/pkg/x.go",
		"src//pkg/../x.go": "src/x.go",
		"  web/index.js ":  "web/index.js",
	}
	for in, want := range cases {
		got, err := NormalizePath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "  ", ".", "/", "../secret", "a/../../b"} {
		_, err := NormalizePath(bad)
		assert.Error(t, err, bad)
	}

	_, err := NormalizePath("../etc/passwd")
	assert.True(t, errors.Is(err, ErrPathEscapesRoot))
}

func TestWriteAtomicCreatesParents(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "c.txt")

	require.NoError(t, WriteAtomic(target, []byte("hello\n")))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got))
}

func TestWriteAtomicPreservesPermissions(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(target, []byte("#!/bin/sh\n"), 0755))

	require.NoError(t, WriteAtomic(target, []byte("#!/bin/sh\necho hi\n")))

	st, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), st.Mode().Perm())
}

func TestWriteAtomicCrashBeforeCommitLeavesTargetUntouched(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(target, []byte("original\n"), 0644))

	var scratchFile string
	crash := errors.New("simulated crash")
	orig := beforeCommit
	beforeCommit = func(tmpPath, _ string) error {
		scratchFile = tmpPath
		written, err := os.ReadFile(tmpPath)
		require.NoError(t, err)
		assert.Equal(t, "replacement\n", string(written))
		return crash
	}
	t.Cleanup(func() { beforeCommit = orig })

	err := WriteAtomic(target, []byte("replacement\n"))
	require.ErrorIs(t, err, crash)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "original\n", string(got))

	_, err = os.Stat(filepath.Dir(scratchFile))
	assert.True(t, os.IsNotExist(err), "scratch directory should be removed")
}

func TestRemoveMissingIsNotAnError(t *testing.T) {
	removed, err := Remove(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestResolverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r, err := NewPathResolver(dir)
	require.NoError(t, err)

	abs := r.Resolve("src/x.go")
	assert.Equal(t, filepath.Join(dir, "src", "x.go"), abs)

	rel, err := r.Relative(abs)
	require.NoError(t, err)
	assert.Equal(t, "src/x.go", rel)
}

func TestExpandIncludesAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	write("src/a.go", "package a\n")
	write("src/b.go", "package b\n")
	write("src/.git/config", "[core]\n")
	write("src/node_modules/x.js", "x\n")
	write("bin/blob", "\x00\x01\x02")
	write("README.md", "# readme\n")

	r, err := NewPathResolver(dir)
	require.NoError(t, err)

	paths, err := r.ExpandIncludes([]string{"src", "README.md", "bin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "bin/blob", "src/a.go", "src/b.go"}, paths)

	text, included := r.Snapshot(paths, 0)
	assert.Equal(t, []string{"README.md", "src/a.go", "src/b.go"}, included)
	assert.Contains(t, text, "File: src/a.go\n```\npackage a\n```")

	_, limited := r.Snapshot(paths, 40)
	assert.Len(t, limited, 1)
}
