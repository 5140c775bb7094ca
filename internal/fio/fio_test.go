package fio

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ploke/internal/hash"
)

type allowAll struct{}

func (allowAll) IsPathAllowed(string) bool { return true }

func newTestEngine() *Engine {
	return New(hash.NamespaceFor("test-workspace"), allowAll{}, DefaultRetryPolicy, 4)
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestComputeHashMatchesContent(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.go", "package a\n")

	e := newTestEngine()
	got, err := e.ComputeHash(path)
	require.NoError(t, err)

	want := hash.Of(e.namespace, []byte("package a\n"))
	assert.Equal(t, want, got)
}

func TestReadVerifiedSucceedsOnMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.go", "package a\n")

	e := newTestEngine()
	h, err := e.ComputeHash(path)
	require.NoError(t, err)

	data, err := e.ReadVerified(path, h)
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(data))
}

func TestReadVerifiedFailsOnMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.go", "package a\n")

	e := newTestEngine()
	_, err := e.ReadVerified(path, hash.Of(e.namespace, []byte("different")))
	assert.ErrorIs(t, err, ErrContentMismatch)
}

func TestWriteBatchAppliesSpliceAndReturnsNewHash(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.go", "package a\n\nfunc Old() {}\n")

	e := newTestEngine()
	h, err := e.ComputeHash(path)
	require.NoError(t, err)

	start := len("package a\n\n")
	end := start + len("func Old() {}")

	results := e.WriteBatch(context.Background(), []WriteSnippet{{
		FilePath:         path,
		ExpectedFileHash: h,
		StartByte:        start,
		EndByte:          end,
		Replacement:      []byte("func New() {}"),
	}})

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "package a\n\nfunc New() {}\n", string(data))

	want := hash.Of(e.namespace, data)
	assert.Equal(t, want, results[0].NewHash)
}

func TestWriteBatchRejectsStaleHash(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.go", "package a\n")

	e := newTestEngine()
	stale := hash.Of(e.namespace, []byte("not the real content"))

	results := e.WriteBatch(context.Background(), []WriteSnippet{{
		FilePath:         path,
		ExpectedFileHash: stale,
		StartByte:        0,
		EndByte:          0,
		Replacement:      []byte("x"),
	}})

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrContentMismatch)
}

func TestWriteBatchRejectsOverlappingRanges(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.go", "0123456789")

	e := newTestEngine()
	h, err := e.ComputeHash(path)
	require.NoError(t, err)

	results := e.WriteBatch(context.Background(), []WriteSnippet{
		{FilePath: path, ExpectedFileHash: h, StartByte: 0, EndByte: 5, Replacement: []byte("AAAAA")},
		{FilePath: path, ExpectedFileHash: h, StartByte: 3, EndByte: 8, Replacement: []byte("BBBBB")},
	})

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrOverlappingRanges)
}

func TestWriteBatchRejectsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.go", "short")

	e := newTestEngine()
	h, err := e.ComputeHash(path)
	require.NoError(t, err)

	results := e.WriteBatch(context.Background(), []WriteSnippet{
		{FilePath: path, ExpectedFileHash: h, StartByte: 0, EndByte: 999, Replacement: []byte("x")},
	})

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrOutOfRange)
}

func TestWriteBatchRejectsInvalidUTF8Boundary(t *testing.T) {
	dir := t.TempDir()
	// "héllo" - é is a 2-byte UTF-8 rune starting at byte 1.
	path := writeTempFile(t, dir, "a.go", "héllo")

	e := newTestEngine()
	h, err := e.ComputeHash(path)
	require.NoError(t, err)

	results := e.WriteBatch(context.Background(), []WriteSnippet{
		{FilePath: path, ExpectedFileHash: h, StartByte: 2, EndByte: 4, Replacement: []byte("x")},
	})

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrInvalidCharBoundary)
}

func TestWriteBatchMultipleFilesIndependent(t *testing.T) {
	dir := t.TempDir()
	pathA := writeTempFile(t, dir, "a.go", "AAAA")
	pathB := writeTempFile(t, dir, "b.go", "BBBB")

	e := newTestEngine()
	hA, err := e.ComputeHash(pathA)
	require.NoError(t, err)
	hB, err := e.ComputeHash(pathB)
	require.NoError(t, err)

	results := e.WriteBatch(context.Background(), []WriteSnippet{
		{FilePath: pathA, ExpectedFileHash: hA, StartByte: 0, EndByte: 4, Replacement: []byte("ZZZZ")},
		{FilePath: pathB, ExpectedFileHash: hB, StartByte: 0, EndByte: 4, Replacement: []byte("YYYY")},
	})

	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}

	gotA, _ := os.ReadFile(pathA)
	gotB, _ := os.ReadFile(pathB)
	assert.Equal(t, "ZZZZ", string(gotA))
	assert.Equal(t, "YYYY", string(gotB))
}

func TestPathPolicyViolation(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "a.go", "package a\n")

	e := New(hash.NamespaceFor("test"), denyAll{}, DefaultRetryPolicy, 1)
	_, err := e.ReadVerified(path, hash.Zero)
	assert.ErrorIs(t, err, ErrPathPolicyViolation)
}

type denyAll struct{}

func (denyAll) IsPathAllowed(string) bool { return false }
