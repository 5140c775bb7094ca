// Package statemgr implements the State Manager: a single-writer actor
// that serializes every mutation of Proposal Registry and Code-Graph
// Store state through one mailbox goroutine, so concurrent tool calls
// from an agent never race staging, approval, and apply against each
// other. Grounded in the teacher's SpawnQueue (a mailbox channel plus a
// worker loop, with the caller's ResultCh carrying the reply back),
// simplified to a single worker since ploke's state mutations are
// cheap and must be strictly ordered rather than load-balanced.
package statemgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"ploke/internal/executor"
	"ploke/internal/logging"
	"ploke/internal/metrics"
	"ploke/internal/proposal"
	"ploke/internal/resolver"
)

// CommandKind names the operations the State Manager serializes.
type CommandKind string

const (
	CmdResolveCanonical CommandKind = "resolve_canonical"
	CmdResolveSplice    CommandKind = "resolve_splice"
	CmdApprove          CommandKind = "approve"
	CmdDeny             CommandKind = "deny"
	CmdApply            CommandKind = "apply"
)

var ErrStopped = errors.New("statemgr: manager is stopped")

// StateCommand is one unit of mailbox work.
type StateCommand struct {
	Kind       CommandKind
	ProposalID string
	Payload    json.RawMessage
	Ctx        context.Context
	resultCh   chan StateResult
}

// StateResult is a command's outcome, delivered on StateCommand.resultCh.
type StateResult struct {
	Proposal *proposal.EditProposal
	Err      error
}

// Manager is the State Manager.
type Manager struct {
	resolver *resolver.Resolver
	executor *executor.Executor

	mailbox chan StateCommand
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New constructs a Manager. Call Start before submitting commands.
func New(r *resolver.Resolver, e *executor.Executor, mailboxSize int) *Manager {
	if mailboxSize <= 0 {
		mailboxSize = 64
	}
	return &Manager{
		resolver: r,
		executor: e,
		mailbox:  make(chan StateCommand, mailboxSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the single mailbox worker goroutine.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.wg.Add(1)
	go m.run()
	logging.StatemgrDebug("started")
}

// Stop signals the worker to exit; commands still queued in the mailbox
// are answered with ErrStopped rather than run. It waits for the worker
// goroutine to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	logging.StatemgrDebug("stopped")
}

func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case cmd := <-m.mailbox:
			cmd.resultCh <- m.handle(cmd)
		case <-m.stopCh:
			m.drain()
			return
		}
	}
}

// drain flushes any commands already queued when Stop was called, so
// callers blocked in submit don't hang forever.
func (m *Manager) drain() {
	for {
		select {
		case cmd := <-m.mailbox:
			cmd.resultCh <- StateResult{Err: ErrStopped}
		default:
			return
		}
	}
}

func (m *Manager) handle(cmd StateCommand) StateResult {
	switch cmd.Kind {
	case CmdResolveCanonical:
		p, err := m.resolver.ResolveCanonical(cmd.Payload)
		return StateResult{Proposal: p, Err: err}
	case CmdResolveSplice:
		p, err := m.resolver.ResolveSplice(cmd.Payload)
		return StateResult{Proposal: p, Err: err}
	case CmdApprove:
		p, err := m.executor.Approve(cmd.ProposalID)
		return StateResult{Proposal: p, Err: err}
	case CmdDeny:
		p, err := m.executor.Deny(cmd.ProposalID)
		return StateResult{Proposal: p, Err: err}
	case CmdApply:
		ctx := cmd.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		p, err := m.executor.Apply(ctx, cmd.ProposalID)
		return StateResult{Proposal: p, Err: err}
	default:
		return StateResult{Err: fmt.Errorf("statemgr: unknown command kind %q", cmd.Kind)}
	}
}

// submit enqueues cmd and blocks for its result, or returns ErrStopped
// if the manager was never started or has since stopped.
func (m *Manager) submit(cmd StateCommand) (*proposal.EditProposal, error) {
	cmd.resultCh = make(chan StateResult, 1)

	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return nil, ErrStopped
	}

	select {
	case m.mailbox <- cmd:
		metrics.SetMailboxDepth(len(m.mailbox))
	case <-m.stopCh:
		return nil, ErrStopped
	}

	result := <-cmd.resultCh
	metrics.SetMailboxDepth(len(m.mailbox))
	return result.Proposal, result.Err
}

// ResolveCanonical serializes a canonical-mode edit resolution.
func (m *Manager) ResolveCanonical(payload json.RawMessage) (*proposal.EditProposal, error) {
	return m.submit(StateCommand{Kind: CmdResolveCanonical, Payload: payload})
}

// ResolveSplice serializes a splice-mode edit resolution.
func (m *Manager) ResolveSplice(payload json.RawMessage) (*proposal.EditProposal, error) {
	return m.submit(StateCommand{Kind: CmdResolveSplice, Payload: payload})
}

// Approve serializes a proposal approval.
func (m *Manager) Approve(id string) (*proposal.EditProposal, error) {
	return m.submit(StateCommand{Kind: CmdApprove, ProposalID: id})
}

// Deny serializes a proposal denial.
func (m *Manager) Deny(id string) (*proposal.EditProposal, error) {
	return m.submit(StateCommand{Kind: CmdDeny, ProposalID: id})
}

// Apply serializes driving write_batch for an approved proposal.
func (m *Manager) Apply(ctx context.Context, id string) (*proposal.EditProposal, error) {
	return m.submit(StateCommand{Kind: CmdApply, ProposalID: id, Ctx: ctx})
}
