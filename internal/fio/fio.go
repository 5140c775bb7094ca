// Package fio implements the File I/O Engine: verified reads and atomic,
// per-file-exclusive writes with TrackingHash preconditions. It is the
// lowest layer of the editing pipeline — nothing above it touches the
// filesystem directly.
package fio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"ploke/internal/hash"
	"ploke/internal/logging"
	"ploke/internal/metrics"
)

// Precondition-violated errors (never retried).
var (
	ErrContentMismatch      = errors.New("fio: content mismatch")
	ErrInvalidCharBoundary  = errors.New("fio: byte range not on a UTF-8 boundary")
	ErrOutOfRange           = errors.New("fio: byte range out of bounds")
	ErrOverlappingRanges    = errors.New("fio: overlapping byte ranges in same file")
	ErrPathPolicyViolation  = errors.New("fio: path outside configured workspace roots")
)

// IOError wraps an I/O-transient failure with the operation that failed.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("fio: %s %s: %v", e.Op, e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// WriteSnippet is a single splice: replace [StartByte, EndByte) of
// FilePath's current content with Replacement, provided the file's
// current TrackingHash equals ExpectedFileHash.
type WriteSnippet struct {
	FilePath          string
	ExpectedFileHash  hash.Tracking
	StartByte         int
	EndByte           int
	Replacement       []byte
}

// WriteResult is the per-file outcome of a WriteBatch call.
type WriteResult struct {
	FilePath string
	NewHash  hash.Tracking
	Err      error
}

// PathAllower reports whether an absolute path may be written, mirroring
// config.Config.IsPathAllowed without importing the config package.
type PathAllower interface {
	IsPathAllowed(absPath string) bool
}

// RetryPolicy bounds the transient-I/O backoff applied to read/write
// operations that report a classified-transient error.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches config.DefaultConfig's FIO.Retry values.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, BaseDelay: 50 * time.Millisecond, MaxDelay: 2 * time.Second}

// Engine is the File I/O Engine.
type Engine struct {
	namespace   hash.Namespace
	allower     PathAllower
	retry       RetryPolicy
	concurrency int

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	group singleflight.Group
}

// New constructs an Engine scoped to namespace, enforcing allower's path
// policy, retrying transient I/O per retry, and fanning write_batch out
// with up to concurrency simultaneous per-file writers.
func New(namespace hash.Namespace, allower PathAllower, retry RetryPolicy, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Engine{
		namespace:   namespace,
		allower:     allower,
		retry:       retry,
		concurrency: concurrency,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(path string) *sync.Mutex {
	e.lockMu.Lock()
	defer e.lockMu.Unlock()
	m, ok := e.locks[path]
	if !ok {
		m = &sync.Mutex{}
		e.locks[path] = m
	}
	return m
}

func (e *Engine) checkPathPolicy(path string) error {
	if e.allower == nil {
		return nil
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %s (not absolute)", ErrPathPolicyViolation, path)
	}
	if !e.allower.IsPathAllowed(path) {
		return fmt.Errorf("%w: %s", ErrPathPolicyViolation, path)
	}
	return nil
}

func (e *Engine) backoffFor() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retry.BaseDelay
	b.MaxInterval = e.retry.MaxDelay
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(max0(e.retry.MaxAttempts-1)))
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, os.ErrDeadlineExceeded) ||
			pathErr.Err.Error() == "resource temporarily unavailable" ||
			pathErr.Err.Error() == "device or resource busy"
	}
	return false
}

// ComputeHash computes the TrackingHash of path's current content,
// collapsing concurrent callers for the same path into a single read.
func (e *Engine) ComputeHash(path string) (hash.Tracking, error) {
	v, err, _ := e.group.Do(path, func() (interface{}, error) {
		data, err := e.readFileRetrying(path)
		if err != nil {
			return hash.Zero, err
		}
		return hash.Of(e.namespace, data), nil
	})
	if err != nil {
		return hash.Zero, err
	}
	return v.(hash.Tracking), nil
}

func (e *Engine) readFileRetrying(path string) ([]byte, error) {
	var data []byte
	op := func() error {
		b, err := os.ReadFile(path)
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(&IOError{Op: "read", Path: path, Err: err})
		}
		data = b
		return nil
	}
	if err := backoff.Retry(op, e.backoffFor()); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// ReadVerified reads path and returns its bytes only if its current
// TrackingHash equals expectedHash.
func (e *Engine) ReadVerified(path string, expectedHash hash.Tracking) ([]byte, error) {
	if err := e.checkPathPolicy(path); err != nil {
		return nil, err
	}
	lock := e.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := e.readFileRetrying(path)
	if err != nil {
		return nil, err
	}
	actual := hash.Of(e.namespace, data)
	if actual != expectedHash {
		logging.FIODebug("read_verified: content mismatch for %s (want %s got %s)", path, expectedHash, actual)
		return nil, fmt.Errorf("%w: %s", ErrContentMismatch, path)
	}
	return data, nil
}

// WriteBatch groups snippets by file and applies each file's splices
// atomically: verify precondition, splice, write to a sibling temp file,
// fsync, rename, fsync parent directory. Writes to different files run
// concurrently (bounded by the Engine's concurrency); writes to the same
// path are serialized by the per-file lock regardless of batch boundary.
func (e *Engine) WriteBatch(ctx context.Context, snippets []WriteSnippet) []WriteResult {
	byFile := make(map[string][]WriteSnippet)
	order := make([]string, 0)
	for _, s := range snippets {
		if _, ok := byFile[s.FilePath]; !ok {
			order = append(order, s.FilePath)
		}
		byFile[s.FilePath] = append(byFile[s.FilePath], s)
	}

	results := make([]WriteResult, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i, path := range order {
		i, path := i, path
		g.Go(func() error {
			select {
			case <-gctx.Done():
				results[i] = WriteResult{FilePath: path, Err: gctx.Err()}
				return nil
			default:
			}
			start := time.Now()
			newHash, err := e.writeOneFile(path, byFile[path])
			metrics.ObserveFIOWrite(time.Since(start).Seconds(), err)
			results[i] = WriteResult{FilePath: path, NewHash: newHash, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Engine) writeOneFile(path string, edits []WriteSnippet) (hash.Tracking, error) {
	if err := e.checkPathPolicy(path); err != nil {
		return hash.Zero, err
	}

	lock := e.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := e.readFileRetrying(path)
	if err != nil {
		return hash.Zero, err
	}

	expected := edits[0].ExpectedFileHash
	actual := hash.Of(e.namespace, data)
	if actual != expected {
		return hash.Zero, fmt.Errorf("%w: %s", ErrContentMismatch, path)
	}

	if err := validateRanges(data, edits); err != nil {
		return hash.Zero, err
	}

	spliced, err := splice(data, edits)
	if err != nil {
		return hash.Zero, err
	}

	writeOp := func() error {
		err := e.atomicWrite(path, spliced)
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(writeOp, e.backoffFor()); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return hash.Zero, perm.Err
		}
		return hash.Zero, err
	}

	newHash := hash.Of(e.namespace, spliced)
	logging.FIODebug("write_batch: %s -> %s (%d edits)", path, newHash, len(edits))
	return newHash, nil
}

func validateRanges(data []byte, edits []WriteSnippet) error {
	n := len(data)
	sorted := append([]WriteSnippet(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartByte < sorted[j].StartByte })

	for i, ed := range sorted {
		if ed.StartByte < 0 || ed.EndByte > n || ed.StartByte > ed.EndByte {
			return fmt.Errorf("%w: [%d,%d) in file of length %d", ErrOutOfRange, ed.StartByte, ed.EndByte, n)
		}
		if !validUTF8Boundary(data, ed.StartByte) || !validUTF8Boundary(data, ed.EndByte) {
			return fmt.Errorf("%w: [%d,%d)", ErrInvalidCharBoundary, ed.StartByte, ed.EndByte)
		}
		if i > 0 && sorted[i-1].EndByte > ed.StartByte {
			return fmt.Errorf("%w: [%d,%d) overlaps [%d,%d)", ErrOverlappingRanges,
				sorted[i-1].StartByte, sorted[i-1].EndByte, ed.StartByte, ed.EndByte)
		}
	}
	return nil
}

func validUTF8Boundary(data []byte, pos int) bool {
	if pos == 0 || pos == len(data) {
		return true
	}
	if pos < 0 || pos > len(data) {
		return false
	}
	return utf8.RuneStart(data[pos])
}

// splice applies edits to data in descending start-byte order so earlier
// offsets remain valid as later (higher-offset) edits are applied first.
func splice(data []byte, edits []WriteSnippet) ([]byte, error) {
	sorted := append([]WriteSnippet(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartByte > sorted[j].StartByte })

	out := append([]byte(nil), data...)
	for _, ed := range sorted {
		var buf bytes.Buffer
		buf.Write(out[:ed.StartByte])
		buf.Write(ed.Replacement)
		buf.Write(out[ed.EndByte:])
		out = buf.Bytes()
	}
	return out, nil
}

func (e *Engine) atomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".ploke-tmp-*")
	if err != nil {
		return &IOError{Op: "create_temp", Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &IOError{Op: "fsync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: path, Err: err}
	}

	if err := os.Chmod(tmpPath, 0644); err != nil {
		logging.FIOWarn("atomic_write: chmod failed for %s: %v", tmpPath, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	cleanup = false

	if dirFile, err := os.Open(dir); err == nil {
		_ = dirFile.Sync() // best-effort: durability of the rename itself
		dirFile.Close()
	}
	return nil
}
