// Package graph implements the Code-Graph Store: a SQLite-backed index
// of files and the named code elements (nodes) within them, addressed by
// canonical path so the Edit Resolver can turn {file, canon_path,
// node_kind} into an exact byte range without re-parsing on every call.
package graph

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	_ "github.com/mattn/go-sqlite3"

	"ploke/internal/hash"
	"ploke/internal/logging"
)

// NotFoundError reports that no node matched the requested canonical
// path, carrying fuzzy-matched near-misses to help the caller correct
// their request.
type NotFoundError struct {
	FilePath   string
	CanonPath  string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("graph: no node %q in %s (suggestions: %v)", e.CanonPath, e.FilePath, e.Suggestions)
}

// AmbiguousError reports that more than one node matched the request.
type AmbiguousError struct {
	FilePath  string
	CanonPath string
	Matches   []NodeRef
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("graph: %d nodes match %q in %s", len(e.Matches), e.CanonPath, e.FilePath)
}

var ErrFileNotIndexed = errors.New("graph: file not indexed")

// NodeRef locates a single code element within a file by half-open,
// UTF-8-aligned byte range.
type NodeRef struct {
	FilePath         string
	StartByte        int
	EndByte          int
	NodeKind         string
	CanonPath        string
	FileTrackingHash hash.Tracking
}

// FileRecord tracks one indexed file's freshness.
type FileRecord struct {
	Path         string
	TrackingHash hash.Tracking
	ModTime      time.Time
	Size         int64
	NodeCount    int
}

// Store is the Code-Graph Store, backed by a single SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("graph: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// ResetDatabase removes an existing database file at path (and its
// SQLite sidecar files, if present) so a subsequent Open starts from an
// empty schema — used when bootstrapping a crate into a fresh store
// rather than merging into whatever was indexed there before.
func ResetDatabase(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("graph: reset_database: remove %s%s: %w", path, suffix, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	tracking_hash TEXT NOT NULL,
	mtime_unix INTEGER NOT NULL,
	size INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS nodes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	start_byte INTEGER NOT NULL,
	end_byte INTEGER NOT NULL,
	node_kind TEXT NOT NULL,
	canon_path TEXT NOT NULL,
	file_tracking_hash TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_nodes_file_canon ON nodes(file_path, canon_path);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("graph: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// VacuumInto writes a defragmented, consistent snapshot of the store to
// destPath using SQLite's native VACUUM INTO, so a caller can export the
// live database without pausing writers or copying WAL/journal files by
// hand.
func (s *Store) VacuumInto(destPath string) error {
	if _, err := s.db.Exec(`VACUUM INTO ?`, destPath); err != nil {
		return fmt.Errorf("graph: vacuum_into %s: %w", destPath, err)
	}
	return nil
}

// ApplyFileUpdate replaces a file's node index in one transaction: old
// nodes for the path are discarded, the file row is upserted with the
// new tracking hash, and the new nodes are inserted.
func (s *Store) ApplyFileUpdate(file FileRecord, nodes []NodeRef) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("graph: begin apply_file_update: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
INSERT INTO files (path, tracking_hash, mtime_unix, size) VALUES (?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET tracking_hash=excluded.tracking_hash, mtime_unix=excluded.mtime_unix, size=excluded.size`,
		file.Path, file.TrackingHash.String(), file.ModTime.Unix(), file.Size)
	if err != nil {
		return fmt.Errorf("graph: upsert file %s: %w", file.Path, err)
	}

	if _, err := tx.Exec(`DELETE FROM nodes WHERE file_path = ?`, file.Path); err != nil {
		return fmt.Errorf("graph: clear nodes for %s: %w", file.Path, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO nodes (file_path, start_byte, end_byte, node_kind, canon_path, file_tracking_hash) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("graph: prepare node insert: %w", err)
	}
	defer stmt.Close()

	for _, n := range nodes {
		if _, err := stmt.Exec(n.FilePath, n.StartByte, n.EndByte, n.NodeKind, n.CanonPath, file.TrackingHash.String()); err != nil {
			return fmt.Errorf("graph: insert node %s: %w", n.CanonPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("graph: commit apply_file_update: %w", err)
	}
	logging.GraphDebug("apply_file_update: %s -> %d nodes, hash=%s", file.Path, len(nodes), file.TrackingHash)
	return nil
}

// DropFile removes a file and its nodes (ON DELETE CASCADE), used when
// the Scan/Rescan Service observes a deletion.
func (s *Store) DropFile(path string) error {
	res, err := s.db.Exec(`DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("graph: drop_file %s: %w", path, err)
	}
	n, _ := res.RowsAffected()
	logging.GraphDebug("drop_file: %s (rows=%d)", path, n)
	return nil
}

// GetCrateFiles returns every indexed file's current record.
func (s *Store) GetCrateFiles() ([]FileRecord, error) {
	rows, err := s.db.Query(`
SELECT f.path, f.tracking_hash, f.mtime_unix, f.size, COUNT(n.id)
FROM files f LEFT JOIN nodes n ON n.file_path = f.path
GROUP BY f.path`)
	if err != nil {
		return nil, fmt.Errorf("graph: get_crate_files: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var path, hashStr string
		var mtimeUnix, size int64
		var nodeCount int
		if err := rows.Scan(&path, &hashStr, &mtimeUnix, &size, &nodeCount); err != nil {
			return nil, fmt.Errorf("graph: scan file record: %w", err)
		}
		th, err := hash.Parse(hashStr)
		if err != nil {
			return nil, fmt.Errorf("graph: parse tracking hash for %s: %w", path, err)
		}
		out = append(out, FileRecord{
			Path:         path,
			TrackingHash: th,
			ModTime:      time.Unix(mtimeUnix, 0),
			Size:         size,
			NodeCount:    nodeCount,
		})
	}
	return out, rows.Err()
}

// GetFileRecord returns the current indexed record for a single file, or
// ErrFileNotIndexed if it has never been scanned.
func (s *Store) GetFileRecord(path string) (FileRecord, error) {
	row := s.db.QueryRow(`
SELECT f.path, f.tracking_hash, f.mtime_unix, f.size, COUNT(n.id)
FROM files f LEFT JOIN nodes n ON n.file_path = f.path
WHERE f.path = ?
GROUP BY f.path`, path)

	var p, hashStr string
	var mtimeUnix, size int64
	var nodeCount int
	if err := row.Scan(&p, &hashStr, &mtimeUnix, &size, &nodeCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FileRecord{}, fmt.Errorf("%w: %s", ErrFileNotIndexed, path)
		}
		return FileRecord{}, fmt.Errorf("graph: get_file_record %s: %w", path, err)
	}
	th, err := hash.Parse(hashStr)
	if err != nil {
		return FileRecord{}, fmt.Errorf("graph: parse tracking hash for %s: %w", path, err)
	}
	return FileRecord{Path: p, TrackingHash: th, ModTime: time.Unix(mtimeUnix, 0), Size: size, NodeCount: nodeCount}, nil
}

// ListNodesInFile returns every indexed node for path, ordered by byte
// offset, for tools that want a file's full element listing rather than
// resolving one canonical path.
func (s *Store) ListNodesInFile(path string) ([]NodeRef, error) {
	rows, err := s.db.Query(`
SELECT file_path, start_byte, end_byte, node_kind, canon_path, file_tracking_hash
FROM nodes WHERE file_path = ? ORDER BY start_byte`, path)
	if err != nil {
		return nil, fmt.Errorf("graph: list_nodes_in_file %s: %w", path, err)
	}
	defer rows.Close()

	var out []NodeRef
	for rows.Next() {
		var n NodeRef
		var hashStr string
		if err := rows.Scan(&n.FilePath, &n.StartByte, &n.EndByte, &n.NodeKind, &n.CanonPath, &hashStr); err != nil {
			return nil, fmt.Errorf("graph: scan node: %w", err)
		}
		th, err := hash.Parse(hashStr)
		if err != nil {
			return nil, fmt.Errorf("graph: parse tracking hash: %w", err)
		}
		n.FileTrackingHash = th
		out = append(out, n)
	}
	return out, rows.Err()
}

// ResolveNodesByCanonInFile finds node(s) matching canonPath (optionally
// narrowed by nodeKind) within filePath. Zero matches returns a
// NotFoundError carrying fuzzy suggestions; more than one match returns
// an AmbiguousError.
func (s *Store) ResolveNodesByCanonInFile(filePath, canonPath, nodeKind string) (NodeRef, error) {
	query := `SELECT file_path, start_byte, end_byte, node_kind, canon_path, file_tracking_hash FROM nodes WHERE file_path = ? AND canon_path = ?`
	args := []interface{}{filePath, canonPath}
	if nodeKind != "" {
		query += ` AND node_kind = ?`
		args = append(args, nodeKind)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return NodeRef{}, fmt.Errorf("graph: resolve_nodes_by_canon_in_file: %w", err)
	}
	defer rows.Close()

	var matches []NodeRef
	for rows.Next() {
		var n NodeRef
		var hashStr string
		if err := rows.Scan(&n.FilePath, &n.StartByte, &n.EndByte, &n.NodeKind, &n.CanonPath, &hashStr); err != nil {
			return NodeRef{}, fmt.Errorf("graph: scan node: %w", err)
		}
		th, err := hash.Parse(hashStr)
		if err != nil {
			return NodeRef{}, fmt.Errorf("graph: parse node tracking hash: %w", err)
		}
		n.FileTrackingHash = th
		matches = append(matches, n)
	}
	if err := rows.Err(); err != nil {
		return NodeRef{}, err
	}

	switch len(matches) {
	case 0:
		suggestions, serr := s.suggestCanonPaths(filePath, canonPath, 5)
		if serr != nil {
			logging.GraphWarn("resolve_nodes_by_canon_in_file: suggest failed for %s: %v", filePath, serr)
		}
		return NodeRef{}, &NotFoundError{FilePath: filePath, CanonPath: canonPath, Suggestions: suggestions}
	case 1:
		return matches[0], nil
	default:
		return NodeRef{}, &AmbiguousError{FilePath: filePath, CanonPath: canonPath, Matches: matches}
	}
}

// suggestCanonPaths ranks every canon_path indexed for filePath by
// Levenshtein distance (via fuzzysearch) to query, closest first.
func (s *Store) suggestCanonPaths(filePath, query string, limit int) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT canon_path FROM nodes WHERE file_path = ?`, filePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return Suggest(candidates, query, limit), nil
}

// Suggest ranks candidates by fuzzy closeness to query, closest first,
// capped at limit. Exported so the Edit Resolver can reuse it when
// enriching resolution errors outside the Store (e.g. unknown file).
func Suggest(candidates []string, query string, limit int) []string {
	ranks := make(fuzzy.Ranks, 0, len(candidates))
	for i, c := range candidates {
		ranks = append(ranks, fuzzy.Rank{
			Source:        query,
			Target:        c,
			Distance:      fuzzy.LevenshteinDistance(query, c),
			OriginalIndex: i,
		})
	}
	sort.Sort(ranks)

	if limit > len(ranks) {
		limit = len(ranks)
	}
	out := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, ranks[i].Target)
	}
	return out
}
