// Package executor implements the Approval Executor: it drives the File
// I/O Engine's write_batch for an Approved proposal, marks the proposal
// Applied or Failed, emits the corresponding SystemEvent, and triggers
// the Scan/Rescan Service's post-apply rescan for the touched file
// before reporting completion — so the next resolution against that
// file never observes stale byte ranges. Grounded in the teacher's
// two-phase-commit TransactionManager: Approve/Apply here play the role
// Prepare/Commit play there, but validation is the proposal's staged
// preconditions rather than a shadow-kernel simulation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ploke/internal/eventbus"
	"ploke/internal/fio"
	"ploke/internal/logging"
	"ploke/internal/metrics"
	"ploke/internal/proposal"
	"ploke/internal/scan"
)

var ErrNotApproved = errors.New("executor: proposal is not in Approved state")

// Executor is the Approval Executor.
type Executor struct {
	registry *proposal.Registry
	fio      *fio.Engine
	scan     *scan.Service
	bus      *eventbus.Bus
}

// New constructs an Executor. bus may be nil when event emission isn't
// needed (e.g. in tests); scan may be nil to skip the post-apply rescan
// (e.g. when the caller reparses out of band).
func New(registry *proposal.Registry, fe *fio.Engine, scanSvc *scan.Service, bus *eventbus.Bus) *Executor {
	return &Executor{registry: registry, fio: fe, scan: scanSvc, bus: bus}
}

// Approve moves a proposal to Approved without applying it, so a caller
// can batch several approvals before triggering writes. If the proposal
// is already terminal (ErrAlreadyApplied for Applied, ErrAlreadyDenied
// for Denied), the registry's sentinel error
// is returned alongside the unchanged proposal with no event emitted —
// an informational no-op, not a failure.
func (e *Executor) Approve(id string) (*proposal.EditProposal, error) {
	p, err := e.registry.Approve(id)
	if err != nil {
		if errors.Is(err, proposal.ErrAlreadyApplied) || errors.Is(err, proposal.ErrAlreadyDenied) {
			return p, err
		}
		return nil, err
	}
	e.emit(eventbus.KindProposalApproved, p, nil)
	return p, nil
}

// Deny moves a proposal to Denied, a terminal state. See Approve for the
// informational no-op behavior on an already-terminal proposal.
func (e *Executor) Deny(id string) (*proposal.EditProposal, error) {
	p, err := e.registry.Deny(id)
	if err != nil {
		if errors.Is(err, proposal.ErrAlreadyApplied) || errors.Is(err, proposal.ErrAlreadyDenied) {
			return p, err
		}
		return nil, err
	}
	e.emit(eventbus.KindProposalDenied, p, nil)
	return p, nil
}

// Apply drives write_batch for an Approved proposal's full edit set. On
// success the proposal becomes Applied and, if a Scan/Rescan Service was
// supplied, every touched file is synchronously reparsed before Apply
// returns — satisfying SRS's ordering guarantee that a post-apply rescan
// precedes any subsequent resolution against that file. The proposal is
// marked Applied only if every file in the batch succeeded; if any file
// fails, the whole proposal becomes Failed (not terminal: it can be
// re-approved or denied), with a summary enumerating every file's
// outcome — both the files that wrote successfully and the ones that
// didn't, per file, since write_batch gives only per-file atomicity.
func (e *Executor) Apply(ctx context.Context, id string) (*proposal.EditProposal, error) {
	p, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if p.State != proposal.Approved {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotApproved, id, p.State)
	}

	snippets := make([]fio.WriteSnippet, len(p.Edits))
	for i, ed := range p.Edits {
		snippets[i] = fio.WriteSnippet{
			FilePath:         ed.File,
			ExpectedFileHash: ed.ExpectedHash,
			StartByte:        ed.StartByte,
			EndByte:          ed.EndByte,
			Replacement:      []byte(ed.Replacement),
		}
	}

	results := e.fio.WriteBatch(ctx, snippets)

	var anyFailed bool
	outcomes := make([]string, len(results))
	for i, res := range results {
		if res.Err != nil {
			anyFailed = true
			outcomes[i] = fmt.Sprintf("%s: failed (%v)", res.FilePath, res.Err)
		} else {
			outcomes[i] = fmt.Sprintf("%s: ok", res.FilePath)
		}
	}

	if anyFailed {
		summary := strings.Join(outcomes, "; ")
		metrics.ObserveApply(errors.New(summary))
		failed, ferr := e.registry.MarkFailed(id, summary)
		if ferr != nil {
			return nil, ferr
		}
		e.emit(eventbus.KindToolCallFailed, failed, map[string]interface{}{"error": summary})
		logging.ExecutorWarn("apply %s failed: %s", id, summary)
		return failed, fmt.Errorf("executor: %s", summary)
	}
	metrics.ObserveApply(nil)

	applied, err := e.registry.MarkApplied(id)
	if err != nil {
		return nil, err
	}

	newHashes := make(map[string]string, len(results))
	for _, res := range results {
		newHashes[res.FilePath] = res.NewHash.String()
		if e.scan != nil {
			if err := e.scan.PostApply(res.FilePath, res.NewHash); err != nil {
				logging.ExecutorWarn("post_apply rescan failed for %s: %v", res.FilePath, err)
			}
		}
	}

	e.emit(eventbus.KindToolCallCompleted, applied, map[string]interface{}{"new_hashes": newHashes})
	logging.ExecutorDebug("applied %s: %d file(s)", id, len(results))
	return applied, nil
}

func (e *Executor) emit(kind eventbus.EventKind, p *proposal.EditProposal, extra map[string]interface{}) {
	if e.bus == nil {
		return
	}
	payload := map[string]interface{}{"proposal_id": p.ID, "files": p.Files}
	for k, v := range extra {
		payload[k] = v
	}
	e.bus.Emit(kind, eventbus.Correlation{
		RequestID: p.Correlation.RequestID,
		ParentID:  p.Correlation.ParentID,
		CallID:    p.Correlation.CallID,
	}, payload)
}
