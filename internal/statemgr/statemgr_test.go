package statemgr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ploke/internal/eventbus"
	"ploke/internal/executor"
	"ploke/internal/fio"
	"ploke/internal/graph"
	"ploke/internal/hash"
	"ploke/internal/parse"
	"ploke/internal/proposal"
	"ploke/internal/resolver"
	"ploke/internal/scan"
)

type allowAll struct{}

func (allowAll) IsPathAllowed(string) bool { return true }

func newTestManager(t *testing.T) (*Manager, hash.Namespace) {
	t.Helper()
	ns := hash.DefaultNamespace
	fe := fio.New(ns, allowAll{}, fio.DefaultRetryPolicy, 4)

	store, err := graph.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg, err := proposal.Open(t.TempDir())
	require.NoError(t, err)

	bus := eventbus.New(16)
	scanSvc := scan.New(store, parse.NewGoParser(), ns, bus)
	res, err := resolver.New(store, fe, reg, resolver.PreviewDiff, 0)
	require.NoError(t, err)
	exec := executor.New(reg, fe, scanSvc, bus)

	mgr := New(res, exec, 16)
	mgr.Start()
	t.Cleanup(mgr.Stop)

	return mgr, ns
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestManagerResolveApproveApplyRoundTrip(t *testing.T) {
	mgr, ns := newTestManager(t)
	content := "package a\n\nfunc Old() {}\n"
	path := writeFile(t, content)
	fth := hash.Of(ns, []byte(content))

	start := 11
	end := start + len("func Old() {}")
	payload := []byte(fmt.Sprintf(`{"edits":[{"file_path":%q,"expected_file_hash":%q,"start_byte":%d,"end_byte":%d,"replacement":"func New() {}"}]}`,
		path, fth.String(), start, end))

	p, err := mgr.ResolveSplice(payload)
	require.NoError(t, err)
	assert.Equal(t, proposal.Pending, p.State)

	p, err = mgr.Approve(p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.Approved, p.State)

	p, err = mgr.Apply(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.Applied, p.State)
}

func TestManagerSerializesConcurrentSubmissions(t *testing.T) {
	mgr, ns := newTestManager(t)
	_ = ns

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := fmt.Sprintf("package a\n\nfunc F%d() {}\n", i)
			path := writeFile(t, content)
			_, errs[i] = mgr.ResolveSplice([]byte(fmt.Sprintf(
				`{"edits":[{"file_path":%q,"expected_file_hash":%q,"start_byte":0,"end_byte":0,"replacement":""}]}`,
				path, hash.Of(hash.DefaultNamespace, []byte(content)).String())))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestManagerRejectsCommandsAfterStop(t *testing.T) {
	mgr, _ := newTestManager(t)
	mgr.Stop()

	_, err := mgr.Approve("nonexistent")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestManagerLeavesNoGoroutinesAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr, ns := newTestManager(t)
	content := "package a\n"
	path := writeFile(t, content)
	fth := hash.Of(ns, []byte(content))

	_, err := mgr.ResolveSplice([]byte(fmt.Sprintf(
		`{"edits":[{"file_path":%q,"expected_file_hash":%q,"start_byte":0,"end_byte":0,"replacement":""}]}`,
		path, fth.String())))
	require.NoError(t, err)

	mgr.Stop()
}
