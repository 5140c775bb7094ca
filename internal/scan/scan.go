// Package scan implements the Scan/Rescan Service: it keeps the
// Code-Graph Store's node index in sync with the filesystem, using
// TrackingHash comparisons to skip unchanged files and cascading
// deletes when a file disappears. PostApply gives the Approval Executor
// a synchronous, ordering-safe way to refresh a single file's nodes
// immediately after a write, so the next resolution against that file
// never reads stale byte ranges.
package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ploke/internal/eventbus"
	"ploke/internal/graph"
	"ploke/internal/hash"
	"ploke/internal/logging"
	"ploke/internal/parse"
)

// Result summarizes one scan pass.
type Result struct {
	Scanned int
	Updated int
	Dropped int
	Errors  []error
}

// Service ties the parser, graph store, and event bus together.
type Service struct {
	store     *graph.Store
	parser    parse.Parser
	namespace hash.Namespace
	bus       *eventbus.Bus

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	debounce    time.Duration
	debounceMap map[string]time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	watching    bool

	onFile func(path string, scanned int)
}

// SetProgressHook installs a callback invoked after each file ScanChanges
// visits, so a CLI can drive a progress indicator off real scan activity
// instead of faking one. Pass nil to disable.
func (s *Service) SetProgressHook(fn func(path string, scanned int)) {
	s.onFile = fn
}

// New constructs a Service. bus may be nil if event emission isn't needed
// (e.g. in tests).
func New(store *graph.Store, parser parse.Parser, namespace hash.Namespace, bus *eventbus.Bus) *Service {
	return &Service{
		store:       store,
		parser:      parser,
		namespace:   namespace,
		bus:         bus,
		debounce:    300 * time.Millisecond,
		debounceMap: make(map[string]time.Time),
	}
}

func isGoFile(path string) bool {
	return strings.HasSuffix(path, ".go")
}

// ScanChanges walks roots, reparsing any Go file whose content hash
// differs from the store's record (or that isn't indexed yet), and
// drops records for files the store has but the walk no longer finds.
func (s *Service) ScanChanges(roots []string) (Result, error) {
	seen := make(map[string]bool)
	var res Result

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				res.Errors = append(res.Errors, err)
				return nil
			}
			if d.IsDir() || !isGoFile(path) {
				return nil
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				res.Errors = append(res.Errors, err)
				return nil
			}
			seen[abs] = true
			res.Scanned++
			if s.onFile != nil {
				s.onFile(abs, res.Scanned)
			}

			changed, err := s.reparseIfStale(abs)
			if err != nil {
				res.Errors = append(res.Errors, err)
				return nil
			}
			if changed {
				res.Updated++
			}
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("scan: walk %s: %w", root, err)
		}
	}

	existing, err := s.store.GetCrateFiles()
	if err != nil {
		return res, fmt.Errorf("scan: get_crate_files: %w", err)
	}
	for _, f := range existing {
		if !seen[f.Path] {
			if err := s.store.DropFile(f.Path); err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Dropped++
		}
	}

	s.emit(eventbus.KindIndexingCompleted, map[string]interface{}{
		"scanned": res.Scanned, "updated": res.Updated, "dropped": res.Dropped,
	})
	return res, nil
}

// reparseIfStale reparses path only if its current content hash differs
// from the store's record (or it isn't indexed at all).
func (s *Service) reparseIfStale(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("scan: read %s: %w", path, err)
	}
	current := hash.Of(s.namespace, data)

	stale := true
	existing, err := s.store.GetCrateFiles()
	if err == nil {
		for _, f := range existing {
			if f.Path == path && f.TrackingHash == current {
				stale = false
				break
			}
		}
	}
	if !stale {
		return false, nil
	}

	return true, s.applyParse(path, data, current)
}

// Reparse force-reparses a single file regardless of its current hash,
// used by Watch after a filesystem notification.
func (s *Service) Reparse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("scan: reparse read %s: %w", path, err)
	}
	return s.applyParse(path, data, hash.Of(s.namespace, data))
}

func (s *Service) applyParse(path string, data []byte, fth hash.Tracking) error {
	nodes, err := s.parser.Parse(path, data, fth)
	if err != nil {
		return fmt.Errorf("scan: parse %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("scan: stat %s: %w", path, err)
	}

	record := graph.FileRecord{
		Path:         path,
		TrackingHash: fth,
		ModTime:      info.ModTime(),
		Size:         info.Size(),
	}
	if err := s.store.ApplyFileUpdate(record, nodes); err != nil {
		return fmt.Errorf("scan: apply_file_update %s: %w", path, err)
	}
	logging.ScanDebug("reparsed %s: %d nodes, hash=%s", path, len(nodes), fth)
	return nil
}

// PostApply reparses path synchronously right after the Approval
// Executor writes it, so the ordering guarantee holds: a post-apply
// rescan for a file always finishes before the next resolution against
// that file is accepted.
func (s *Service) PostApply(path string, newHash hash.Tracking) error {
	if err := s.Reparse(path); err != nil {
		return fmt.Errorf("scan: post_apply %s: %w", path, err)
	}
	s.emit(eventbus.KindIndexingProgress, map[string]interface{}{"path": path, "hash": newHash.String()})
	return nil
}

func (s *Service) emit(kind eventbus.EventKind, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(kind, eventbus.Correlation{}, payload)
}

// Watch starts an fsnotify-driven reactive rescan loop over roots. It is
// non-blocking; call Stop to shut it down. Debounced per-path so rapid
// saves collapse into one reparse.
func (s *Service) Watch(ctx context.Context, roots []string) error {
	s.watchMu.Lock()
	if s.watching {
		s.watchMu.Unlock()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.watchMu.Unlock()
		return fmt.Errorf("scan: new watcher: %w", err)
	}
	for _, root := range roots {
		if err := addRecursive(w, root); err != nil {
			logging.ScanWarn("watch: failed to add %s: %v", root, err)
		}
	}

	s.watcher = w
	s.watching = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.watchMu.Unlock()

	go s.runWatch(ctx)
	return nil
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (s *Service) runWatch(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.debounce / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !isGoFile(event.Name) {
				continue
			}
			s.watchMu.Lock()
			s.debounceMap[event.Name] = time.Now()
			s.watchMu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.ScanWarn("watch: error: %v", err)
		case <-ticker.C:
			s.flushDebounced()
		}
	}
}

func (s *Service) flushDebounced() {
	s.watchMu.Lock()
	now := time.Now()
	var toProcess []string
	for path, t := range s.debounceMap {
		if now.Sub(t) >= s.debounce {
			toProcess = append(toProcess, path)
			delete(s.debounceMap, path)
		}
	}
	s.watchMu.Unlock()

	for _, path := range toProcess {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := s.store.DropFile(path); err != nil {
				logging.ScanWarn("watch: drop_file %s: %v", path, err)
			}
			continue
		}
		if err := s.Reparse(path); err != nil {
			logging.ScanWarn("watch: reparse %s: %v", path, err)
			continue
		}
		s.emit(eventbus.KindReIndex, map[string]interface{}{"path": path})
	}
}

// Stop shuts the watch loop down, if running.
func (s *Service) Stop() {
	s.watchMu.Lock()
	if !s.watching {
		s.watchMu.Unlock()
		return
	}
	s.watching = false
	stopCh := s.stopCh
	doneCh := s.doneCh
	watcher := s.watcher
	s.watchMu.Unlock()

	close(stopCh)
	<-doneCh
	watcher.Close()
}
