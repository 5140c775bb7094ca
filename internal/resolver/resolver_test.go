package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ploke/internal/fio"
	"ploke/internal/graph"
	"ploke/internal/hash"
	"ploke/internal/proposal"
)

type allowAll struct{}

func (allowAll) IsPathAllowed(string) bool { return true }

type testEnv struct {
	store    *graph.Store
	fioE     *fio.Engine
	registry *proposal.Registry
	ns       hash.Namespace
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "graph.db")
	store, err := graph.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ns := hash.DefaultNamespace
	fe := fio.New(ns, allowAll{}, fio.DefaultRetryPolicy, 4)

	reg, err := proposal.Open(t.TempDir())
	require.NoError(t, err)

	return &testEnv{store: store, fioE: fe, registry: reg, ns: ns}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestResolveCanonicalStagesProposal(t *testing.T) {
	env := newTestEnv(t)
	content := "package a\n\nfunc Old() {}\n"
	path := writeFile(t, content)
	fth := hash.Of(env.ns, []byte(content))

	require.NoError(t, env.store.ApplyFileUpdate(graph.FileRecord{Path: path, TrackingHash: fth}, []graph.NodeRef{
		{FilePath: path, StartByte: 11, EndByte: 25, NodeKind: "function", CanonPath: "Old", FileTrackingHash: fth},
	}))

	r, err := New(env.store, env.fioE, env.registry, PreviewDiff, 0)
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(`{"edits":[{"file":%q,"canon_path":"Old","node_kind":"function","replacement_code":"func New() {}"}]}`, path))
	p, err := r.ResolveCanonical(payload)
	require.NoError(t, err)
	assert.Equal(t, proposal.Pending, p.State)
	assert.Contains(t, p.Preview, "New")
	assert.Equal(t, []string{path}, p.Files)
}

func TestResolveCanonicalNotFoundPropagatesGraphError(t *testing.T) {
	env := newTestEnv(t)
	content := "package a\n"
	path := writeFile(t, content)
	fth := hash.Of(env.ns, []byte(content))
	require.NoError(t, env.store.ApplyFileUpdate(graph.FileRecord{Path: path, TrackingHash: fth}, nil))

	r, err := New(env.store, env.fioE, env.registry, PreviewDiff, 0)
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(`{"edits":[{"file":%q,"canon_path":"Missing","node_kind":"function","replacement_code":"x"}]}`, path))
	_, err = r.ResolveCanonical(payload)
	var nf *graph.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestResolveSpliceStagesProposal(t *testing.T) {
	env := newTestEnv(t)
	content := "package a\n\nfunc Old() {}\n"
	path := writeFile(t, content)
	fth := hash.Of(env.ns, []byte(content))

	r, err := New(env.store, env.fioE, env.registry, PreviewDiff, 0)
	require.NoError(t, err)

	start := 11
	end := start + len("func Old() {}")
	payload := []byte(fmt.Sprintf(`{"edits":[{"file_path":%q,"expected_file_hash":%q,"start_byte":%d,"end_byte":%d,"replacement":"func New() {}"}]}`,
		path, fth.String(), start, end))

	p, err := r.ResolveSplice(payload)
	require.NoError(t, err)
	assert.Equal(t, proposal.Pending, p.State)
	assert.Equal(t, proposal.ModeSplice, p.Mode)
	assert.Equal(t, []string{path}, p.Files)
}

func TestResolveSpliceRejectsStaleHash(t *testing.T) {
	env := newTestEnv(t)
	content := "package a\n"
	path := writeFile(t, content)

	r, err := New(env.store, env.fioE, env.registry, PreviewDiff, 0)
	require.NoError(t, err)

	stale := hash.Of(env.ns, []byte("not the content"))
	payload := []byte(fmt.Sprintf(`{"edits":[{"file_path":%q,"expected_file_hash":%q,"start_byte":0,"end_byte":1,"replacement":"x"}]}`,
		path, stale.String()))

	_, err = r.ResolveSplice(payload)
	assert.ErrorIs(t, err, fio.ErrContentMismatch)
}

func TestResolveSpliceRejectsSchemaViolation(t *testing.T) {
	env := newTestEnv(t)
	r, err := New(env.store, env.fioE, env.registry, PreviewDiff, 0)
	require.NoError(t, err)

	_, err = r.ResolveSplice([]byte(`{"edits":[{"file_path":"a.go"}]}`))
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestResolveSpliceRejectsOverlappingActiveProposal(t *testing.T) {
	env := newTestEnv(t)
	content := "package a\n\nfunc Old() {}\n"
	path := writeFile(t, content)
	fth := hash.Of(env.ns, []byte(content))

	r, err := New(env.store, env.fioE, env.registry, PreviewDiff, 0)
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(`{"edits":[{"file_path":%q,"expected_file_hash":%q,"start_byte":0,"end_byte":9,"replacement":"package b"}]}`,
		path, fth.String()))
	_, err = r.ResolveSplice(payload)
	require.NoError(t, err)

	overlapping := []byte(fmt.Sprintf(`{"edits":[{"file_path":%q,"expected_file_hash":%q,"start_byte":5,"end_byte":11,"replacement":"xx"}]}`,
		path, fth.String()))
	_, err = r.ResolveSplice(overlapping)
	assert.ErrorIs(t, err, ErrDuplicateProposal)
}
