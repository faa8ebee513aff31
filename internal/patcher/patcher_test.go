package patcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base = `package main

import "fmt"

func main() {
	fmt.Println("hello")
}

func helper() int {
	return 1
}
`

const baseDiff = `--- a/main.go
+++ b/main.go
@@ -5,3 +5,4 @@
 func main() {
-	fmt.Println("hello")
+	fmt.Println("hello, world")
+	fmt.Println(helper())
 }
@@ -9,3 +10,3 @@
 func helper() int {
-	return 1
+	return 2
 }
`

const patched = `package main

import "fmt"

func main() {
	fmt.Println("hello, world")
	fmt.Println(helper())
}

func helper() int {
	return 2
}
`

// invert swaps the sides of a unified diff.
func invert(diff string) string {
	var out []string
	for _, l := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(l, "--- "), strings.HasPrefix(l, "+++ "):
			out = append(out, l)
		case strings.HasPrefix(l, "@@"):
			h, err := parseHunkHeader(l)
			if err != nil {
				panic(err)
			}
			out = append(out, fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.NewStart, h.NewCount, h.OldStart, h.OldCount))
		case strings.HasPrefix(l, "+"):
			out = append(out, "-"+l[1:])
		case strings.HasPrefix(l, "-"):
			out = append(out, "+"+l[1:])
		default:
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "patch_failures.jsonl")
	return New(Options{FailureLog: NewFailureLog(logPath)}), logPath
}

func TestPatchExactAndInverse(t *testing.T) {
	e, _ := newTestEngine(t)

	res, err := e.Patch(base, baseDiff)
	require.NoError(t, err)
	assert.False(t, res.Fuzzy)
	assert.Equal(t, OpModify, res.Op)
	assert.Equal(t, "main.go", res.Path)
	assert.Equal(t, patched, res.Content)

	back, err := e.Patch(res.Content, invert(baseDiff))
	require.NoError(t, err)
	assert.False(t, back.Fuzzy)
	assert.Equal(t, base, back.Content)
}

func TestPatchStripsFence(t *testing.T) {
	e, _ := newTestEngine(t)

	res, err := e.Patch(base, "\n```diff\n"+baseDiff+"```\n")
	require.NoError(t, err)
	assert.Equal(t, patched, res.Content)
}

func TestPatchFuzzyWithinWindow(t *testing.T) {
	e, _ := newTestEngine(t)

	// Two extra lines at the top shift both hunks; indentation of the
	// context differs from the diff.
	shifted := "// generated\n// by hand\n" + strings.ReplaceAll(base, "func helper() int {", "func  helper()  int {")

	res, err := e.Patch(shifted, baseDiff)
	require.NoError(t, err)
	assert.True(t, res.Fuzzy)
	assert.Equal(t, "// generated\n// by hand\n"+patched, res.Content)
}

func TestPatchFuzzyOutsideWindowRecordsFailure(t *testing.T) {
	e, logPath := newTestEngine(t)
	dir := t.TempDir()
	target := filepath.Join(dir, "main.go")

	shifted := strings.Repeat("// padding\n", 5) + strings.ReplaceAll(base, "\tfmt.Println(\"hello\")", "    fmt.Println(\"hello\")")
	require.NoError(t, os.WriteFile(target, []byte(shifted), 0644))

	err := e.ApplyDiffToFile(target, baseDiff)
	require.Error(t, err)
	var perr *PatchError
	require.ErrorAs(t, err, &perr)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, shifted, string(got), "target must be untouched")

	recs, err := ReadFailures(logPath)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, target, recs[0].File)
	assert.Equal(t, shifted, recs[0].FileContent)
	assert.Contains(t, recs[0].Diff, "+++ b/main.go")
	assert.Contains(t, recs[0].Error, "no match within 3 lines")
	assert.False(t, recs[0].Timestamp.IsZero())
}

func TestFuzzWindowIsConfigurable(t *testing.T) {
	e := New(Options{FuzzWindow: Window(6)})
	shifted := strings.Repeat("// padding\n", 5) + strings.ReplaceAll(base, "\tfmt.Println(\"hello\")", "    fmt.Println(\"hello\")")

	res, err := e.Patch(shifted, baseDiff)
	require.NoError(t, err)
	assert.True(t, res.Fuzzy)
	assert.Equal(t, strings.Repeat("// padding\n", 5)+patched, res.Content)
}

func TestApplyDiffToFileCreate(t *testing.T) {
	e, _ := newTestEngine(t)
	target := filepath.Join(t.TempDir(), "src", "a.ts")

	diff := "--- /dev/null\n+++ b/src/a.ts\n@@ -0,0 +1 @@\n+export const x = 1;\n"
	require.NoError(t, e.ApplyDiffToFile(target, diff))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "export const x = 1;\n", string(got))
}

func TestApplyDiffToFileDelete(t *testing.T) {
	e, logPath := newTestEngine(t)
	target := filepath.Join(t.TempDir(), "old.txt")
	require.NoError(t, os.WriteFile(target, []byte("bye\n"), 0644))

	diff := "--- a/old.txt\n+++ /dev/null\n@@ -1 +0,0 @@\n-bye\n"
	require.NoError(t, e.ApplyDiffToFile(target, diff))
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))

	// Deleting again is a no-op success.
	require.NoError(t, e.ApplyDiffToFile(target, diff))

	recs, err := ReadFailures(logPath)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEmptyResultGuard(t *testing.T) {
	e, logPath := newTestEngine(t)
	target := filepath.Join(t.TempDir(), "one.txt")
	require.NoError(t, os.WriteFile(target, []byte("only line\n"), 0644))

	diff := "--- a/one.txt\n+++ b/one.txt\n@@ -1 +0,0 @@\n-only line\n"
	err := e.ApplyDiffToFile(target, diff)
	require.ErrorIs(t, err, ErrEmptyResult)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "only line\n", string(got))

	recs, err := ReadFailures(logPath)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestNoPatchDataIsRecorded(t *testing.T) {
	e, logPath := newTestEngine(t)
	target := filepath.Join(t.TempDir(), "x.txt")

	err := e.ApplyDiffToFile(target, "I could not produce a diff, sorry.")
	require.ErrorIs(t, err, ErrNoPatchData)

	recs, err := ReadFailures(logPath)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "", recs[0].FileContent)
}

func TestNoNewlineMarker(t *testing.T) {
	e := New(Options{})
	diff := "--- a/f\n+++ b/f\n@@ -1 +1 @@\n-a\n+b\n\\ No newline at end of file\n"

	res, err := e.Patch("a\n", diff)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Content)
}

func TestParseUnifiedDiffMultipleFiles(t *testing.T) {
	text := strings.Join([]string{
		"diff --git a/x.go b/x.go",
		"index 123..456 100644",
		"--- a/x.go",
		"+++ b/x.go",
		"@@ -1,2 +1,2 @@",
		" package x",
		"-var a = 1",
		"+var a = 2",
		"diff --git a/y.go b/y.go",
		"new file mode 100644",
		"--- /dev/null",
		"+++ b/y.go",
		"@@ -0,0 +1 @@",
		"+package y",
		"--- a/z.go\t2024-01-01 00:00:00",
		"+++ /dev/null",
		"@@ -1 +0,0 @@",
		"--- removed comment line",
	}, "\n")

	patches, err := ParseUnifiedDiff(text)
	require.NoError(t, err)
	require.Len(t, patches, 3)

	assert.Equal(t, "x.go", patches[0].TargetPath())
	assert.False(t, patches[0].IsCreate())
	require.Len(t, patches[0].Hunks, 1)
	assert.Equal(t, []string{" package x", "-var a = 1", "+var a = 2"}, patches[0].Hunks[0].Lines)

	assert.True(t, patches[1].IsCreate())
	assert.Equal(t, "y.go", patches[1].TargetPath())

	assert.True(t, patches[2].IsDelete())
	assert.Equal(t, "z.go", patches[2].TargetPath())
	assert.Equal(t, []string{"--- removed comment line"}, patches[2].Hunks[0].Lines)
}

func TestZeroFuzzWindowTriesDeclaredOffsetOnly(t *testing.T) {
	e := New(Options{FuzzWindow: Window(0)})

	// Whitespace differences at the declared position still apply.
	spaced := strings.ReplaceAll(base, "\tfmt.Println(\"hello\")", "    fmt.Println(\"hello\")")
	res, err := e.Patch(spaced, baseDiff)
	require.NoError(t, err)
	assert.True(t, res.Fuzzy)
	assert.Equal(t, patched, res.Content)

	_, err = e.Patch("// generated\n"+spaced, baseDiff)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no match within 0 lines")
}

func TestApplyDiffToFileWithoutOldHeader(t *testing.T) {
	tests := []struct {
		name string
		diff string
	}{
		{"new path only", "+++ b/new.txt\n@@ -0,0 +1,2 @@\n+a\n+b\n"},
		{"bare hunk", "@@ -0,0 +1,2 @@\n+a\n+b\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, logPath := newTestEngine(t)
			target := filepath.Join(t.TempDir(), "new.txt")

			require.NoError(t, e.ApplyDiffToFile(target, tt.diff))

			got, err := os.ReadFile(target)
			require.NoError(t, err)
			assert.Equal(t, "a\nb\n", string(got))

			recs, err := ReadFailures(logPath)
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

func TestBareHunkModifiesExistingContent(t *testing.T) {
	e, _ := newTestEngine(t)

	res, err := e.ApplyToContent("notes.txt", "one\ntwo\nthree\n", "@@ -2 +2 @@\n-two\n+2\n")
	require.NoError(t, err)
	assert.Equal(t, OpModify, res.Op)
	assert.Equal(t, "notes.txt", res.Path)
	assert.Equal(t, "one\n2\nthree\n", res.Content)

	// A zero-length hunk inserts when the file already has content.
	res, err = e.Patch("one\n", "@@ -1,0 +2 @@\n+two\n")
	require.NoError(t, err)
	assert.Equal(t, OpModify, res.Op)
	assert.Equal(t, "one\ntwo\n", res.Content)
}

func TestHeaderLikeLinesInsideHunk(t *testing.T) {
	e, logPath := newTestEngine(t)
	target := filepath.Join(t.TempDir(), "q.sql")
	require.NoError(t, os.WriteFile(target, []byte("-- a\nselect 1;\n"), 0644))

	diff := "--- a/q.sql\n+++ b/q.sql\n@@ -1,2 +1,2 @@\n--- a\n+++ b\n select 1;\n"
	patches, err := ParseUnifiedDiff(diff)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	require.Len(t, patches[0].Hunks, 1)
	assert.Equal(t, []string{"--- a", "+++ b", " select 1;"}, patches[0].Hunks[0].Lines)

	require.NoError(t, e.ApplyDiffToFile(target, diff))
	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "++ b\nselect 1;\n", string(got))

	recs, err := ReadFailures(logPath)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestHunkCountMismatchIsPatchError(t *testing.T) {
	tests := []struct {
		name string
		diff string
		want string
	}{
		{"body too short", "--- a/f.txt\n+++ b/f.txt\n@@ -1,2 +1,3 @@\n a\n-b\n+c\n", "body ends early"},
		{"body too long", "--- a/f.txt\n+++ b/f.txt\n@@ -1 +1 @@\n-a\n+b\n+c\n", "more lines than the header declares"},
		{"wrong line kind", "--- a/f.txt\n+++ b/f.txt\n@@ -1,2 +1 @@\n a\n+b\n", "does not fit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, logPath := newTestEngine(t)
			target := filepath.Join(t.TempDir(), "f.txt")
			require.NoError(t, os.WriteFile(target, []byte("a\nb\n"), 0644))

			err := e.ApplyDiffToFile(target, tt.diff)
			var perr *PatchError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, err.Error(), tt.want)

			got, err := os.ReadFile(target)
			require.NoError(t, err)
			assert.Equal(t, "a\nb\n", string(got))

			recs, err := ReadFailures(logPath)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Contains(t, recs[0].Error, tt.want)
		})
	}
}

func TestTrailingBlankContextMayBeDropped(t *testing.T) {
	e, _ := newTestEngine(t)

	res, err := e.Patch("a\nb\n\nc\n", "--- a/f\n+++ b/f\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n\n")
	require.NoError(t, err)
	assert.Equal(t, "a\nB\n\nc\n", res.Content)
}

func TestCRLFLineEndingsArePreserved(t *testing.T) {
	e, _ := newTestEngine(t)
	content := "one\r\ntwo\r\nthree\r\n"
	diff := "--- a/f.txt\n+++ b/f.txt\n@@ -1,3 +1,4 @@\n one\n-two\n+2\n+2.5\n three\n"

	res, err := e.Patch(content, diff)
	require.NoError(t, err)
	assert.False(t, res.Fuzzy)
	assert.Equal(t, "one\r\n2\r\n2.5\r\nthree\r\n", res.Content)

	// A CRLF diff and a shifted hunk take the same path.
	res, err = e.Patch("zero\r\n"+content, strings.ReplaceAll(diff, "\n", "\r\n"))
	require.NoError(t, err)
	assert.True(t, res.Fuzzy)
	assert.Equal(t, "zero\r\none\r\n2\r\n2.5\r\nthree\r\n", res.Content)
}

func TestCreateOntoExistingFileFails(t *testing.T) {
	e, logPath := newTestEngine(t)
	target := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("keep me\n"), 0644))

	err := e.ApplyDiffToFile(target, "--- /dev/null\n+++ b/a.txt\n@@ -0,0 +1 @@\n+new\n")
	var perr *PatchError
	require.ErrorAs(t, err, &perr)
	require.ErrorIs(t, err, ErrTargetExists)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "keep me\n", string(got))

	recs, err := ReadFailures(logPath)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "keep me\n", recs[0].FileContent)
}
