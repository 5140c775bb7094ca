package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ploke/internal/eventbus"
	"ploke/internal/fio"
	"ploke/internal/graph"
	"ploke/internal/hash"
	"ploke/internal/parse"
	"ploke/internal/proposal"
	"ploke/internal/scan"
)

type allowAll struct{}

func (allowAll) IsPathAllowed(string) bool { return true }

type testEnv struct {
	reg  *proposal.Registry
	fioE *fio.Engine
	scan *scan.Service
	bus  *eventbus.Bus
	ns   hash.Namespace
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ns := hash.DefaultNamespace
	fe := fio.New(ns, allowAll{}, fio.DefaultRetryPolicy, 4)

	reg, err := proposal.Open(t.TempDir())
	require.NoError(t, err)

	store, err := graph.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := eventbus.New(16)
	svc := scan.New(store, parse.NewGoParser(), ns, bus)

	return &testEnv{reg: reg, fioE: fe, scan: svc, bus: bus, ns: ns}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestApplySucceedsAndMarksApplied(t *testing.T) {
	env := newTestEnv(t)
	content := "package a\n\nfunc Old() {}\n"
	path := writeFile(t, content)
	fth := hash.Of(env.ns, []byte(content))

	start := 11
	end := start + len("func Old() {}")
	p, err := env.reg.Stage(proposal.EditProposal{
		Mode: proposal.ModeSplice,
		Edits: []proposal.Edit{
			{File: path, StartByte: start, EndByte: end, Replacement: "func New() {}", ExpectedHash: fth},
		},
	})
	require.NoError(t, err)

	exec := New(env.reg, env.fioE, env.scan, env.bus)
	_, err = exec.Approve(p.ID)
	require.NoError(t, err)

	applied, err := exec.Apply(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.Applied, applied.State)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "func New() {}")
}

func TestApplySucceedsOnMultiFileBatch(t *testing.T) {
	env := newTestEnv(t)
	contentA := "package a\n\nfunc Old() {}\n"
	pathA := writeFile(t, contentA)
	fthA := hash.Of(env.ns, []byte(contentA))

	contentB := "package a\n\nfunc Keep() {}\n"
	pathB := filepath.Join(filepath.Dir(pathA), "b.go")
	require.NoError(t, os.WriteFile(pathB, []byte(contentB), 0644))
	fthB := hash.Of(env.ns, []byte(contentB))

	startA := 11
	endA := startA + len("func Old() {}")
	startB := 11
	endB := startB + len("func Keep() {}")
	p, err := env.reg.Stage(proposal.EditProposal{
		Mode: proposal.ModeSplice,
		Edits: []proposal.Edit{
			{File: pathA, StartByte: startA, EndByte: endA, Replacement: "func New() {}", ExpectedHash: fthA},
			{File: pathB, StartByte: startB, EndByte: endB, Replacement: "func Kept() {}", ExpectedHash: fthB},
		},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pathA, pathB}, p.Files)

	exec := New(env.reg, env.fioE, env.scan, env.bus)
	_, err = exec.Approve(p.ID)
	require.NoError(t, err)

	applied, err := exec.Apply(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.Applied, applied.State)

	dataA, err := os.ReadFile(pathA)
	require.NoError(t, err)
	assert.Contains(t, string(dataA), "func New() {}")

	dataB, err := os.ReadFile(pathB)
	require.NoError(t, err)
	assert.Contains(t, string(dataB), "func Kept() {}")
}

// TestApplyMultiFileBatchPartialFailureMarksFailed covers scenario S5: a
// two-file batch where one file's content changed underneath the proposal
// between staging and apply. The unaffected file is written, the stale one
// is rejected by FIE's hash check, and the whole proposal ends Failed with
// a summary naming both outcomes — matching WriteBatch's per-file fan-out.
func TestApplyMultiFileBatchPartialFailureMarksFailed(t *testing.T) {
	env := newTestEnv(t)
	contentA := "package a\n\nfunc Old() {}\n"
	pathA := writeFile(t, contentA)
	fthA := hash.Of(env.ns, []byte(contentA))

	contentB := "package a\n\nfunc Keep() {}\n"
	pathB := filepath.Join(filepath.Dir(pathA), "b.go")
	require.NoError(t, os.WriteFile(pathB, []byte(contentB), 0644))
	fthB := hash.Of(env.ns, []byte(contentB))

	startA := 11
	endA := startA + len("func Old() {}")
	startB := 11
	endB := startB + len("func Keep() {}")
	p, err := env.reg.Stage(proposal.EditProposal{
		Mode: proposal.ModeSplice,
		Edits: []proposal.Edit{
			{File: pathA, StartByte: startA, EndByte: endA, Replacement: "func New() {}", ExpectedHash: fthA},
			{File: pathB, StartByte: startB, EndByte: endB, Replacement: "func Kept() {}", ExpectedHash: fthB},
		},
	})
	require.NoError(t, err)

	exec := New(env.reg, env.fioE, env.scan, env.bus)
	_, err = exec.Approve(p.ID)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(pathB, []byte("package a\n\nfunc Changed() {}\n"), 0644))

	failed, err := exec.Apply(context.Background(), p.ID)
	require.Error(t, err)
	assert.Equal(t, proposal.Failed, failed.State)
	assert.Contains(t, failed.FailureReason, pathB)

	dataA, err := os.ReadFile(pathA)
	require.NoError(t, err)
	assert.Contains(t, string(dataA), "func New() {}")

	dataB, err := os.ReadFile(pathB)
	require.NoError(t, err)
	assert.Contains(t, string(dataB), "func Changed() {}")
}

func TestApplyRejectsUnapprovedProposal(t *testing.T) {
	env := newTestEnv(t)
	content := "package a\n"
	path := writeFile(t, content)
	fth := hash.Of(env.ns, []byte(content))

	p, err := env.reg.Stage(proposal.EditProposal{
		Mode:  proposal.ModeSplice,
		Edits: []proposal.Edit{{File: path, StartByte: 0, EndByte: 0, Replacement: "", ExpectedHash: fth}},
	})
	require.NoError(t, err)

	exec := New(env.reg, env.fioE, env.scan, env.bus)
	_, err = exec.Apply(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestApplyOnStaleHashMarksFailedAndAllowsReapproval(t *testing.T) {
	env := newTestEnv(t)
	content := "package a\n\nfunc Old() {}\n"
	path := writeFile(t, content)
	fth := hash.Of(env.ns, []byte(content))

	start := 11
	end := start + len("func Old() {}")
	p, err := env.reg.Stage(proposal.EditProposal{
		Mode:  proposal.ModeSplice,
		Edits: []proposal.Edit{{File: path, StartByte: start, EndByte: end, Replacement: "func New() {}", ExpectedHash: fth}},
	})
	require.NoError(t, err)

	exec := New(env.reg, env.fioE, env.scan, env.bus)
	_, err = exec.Approve(p.ID)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("package a\n\nfunc Changed() {}\n"), 0644))

	failed, err := exec.Apply(context.Background(), p.ID)
	require.Error(t, err)
	assert.Equal(t, proposal.Failed, failed.State)
	assert.NotEmpty(t, failed.FailureReason)

	reapproved, err := exec.Approve(p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.Approved, reapproved.State)
}

func TestDenyMarksTerminal(t *testing.T) {
	env := newTestEnv(t)
	content := "package a\n"
	path := writeFile(t, content)
	fth := hash.Of(env.ns, []byte(content))

	p, err := env.reg.Stage(proposal.EditProposal{
		Mode:  proposal.ModeSplice,
		Edits: []proposal.Edit{{File: path, StartByte: 0, EndByte: 0, Replacement: "", ExpectedHash: fth}},
	})
	require.NoError(t, err)

	exec := New(env.reg, env.fioE, env.scan, env.bus)
	denied, err := exec.Deny(p.ID)
	require.NoError(t, err)
	assert.Equal(t, proposal.Denied, denied.State)

	again, err := exec.Approve(p.ID)
	assert.ErrorIs(t, err, proposal.ErrAlreadyDenied)
	require.NotNil(t, again)
	assert.Equal(t, proposal.Denied, again.State)
}

func TestApplyEmitsToolCallCompletedEvent(t *testing.T) {
	env := newTestEnv(t)
	content := "package a\n\nfunc Old() {}\n"
	path := writeFile(t, content)
	fth := hash.Of(env.ns, []byte(content))

	start := 11
	end := start + len("func Old() {}")
	p, err := env.reg.Stage(proposal.EditProposal{
		Mode:        proposal.ModeSplice,
		Edits:       []proposal.Edit{{File: path, StartByte: start, EndByte: end, Replacement: "func New() {}", ExpectedHash: fth}},
		Correlation: proposal.Correlation{RequestID: "req-1"},
	})
	require.NoError(t, err)

	sub := env.bus.Subscribe(eventbus.KindToolCallCompleted)
	defer sub.Unsubscribe()

	exec := New(env.reg, env.fioE, env.scan, env.bus)
	_, err = exec.Approve(p.ID)
	require.NoError(t, err)
	_, err = exec.Apply(context.Background(), p.ID)
	require.NoError(t, err)

	select {
	case evt := <-sub.Events:
		assert.Equal(t, eventbus.KindToolCallCompleted, evt.Kind)
		assert.Equal(t, "req-1", evt.Correlation.RequestID)
	default:
		t.Fatal("expected a ToolCallCompleted event")
	}
}
