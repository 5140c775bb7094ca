// Package resolver implements the Edit Resolver: it turns a validated
// tool-call payload into a staged proposal.EditProposal with an attached
// human-readable preview, in one of two addressing modes — canonical
// (resolved through the Code-Graph Store by {file, canon_path,
// node_kind}) or splice (a direct byte range against an expected file
// hash, bypassing the graph entirely).
package resolver

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"ploke/internal/diff"
	"ploke/internal/fio"
	"ploke/internal/graph"
	"ploke/internal/hash"
	"ploke/internal/logging"
	"ploke/internal/proposal"
)

// PreviewMode selects the rendered preview format attached to a staged
// proposal. Mirrors config.PreviewMode without importing config.
type PreviewMode string

const (
	PreviewDiff       PreviewMode = "diff"
	PreviewCodeBlocks PreviewMode = "codeblocks"
)

var (
	ErrSchemaViolation     = errors.New("resolver: payload does not match schema")
	ErrDuplicateProposal   = errors.New("resolver: an active proposal already covers an overlapping range in this file")
	ErrOverlappingProposal = ErrDuplicateProposal
)

const canonicalSchemaJSON = `{
	"type": "object",
	"required": ["edits"],
	"properties": {
		"edits": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["file", "canon_path", "node_kind", "replacement_code"],
				"properties": {
					"file": {"type": "string", "minLength": 1},
					"canon_path": {"type": "string", "minLength": 1},
					"node_kind": {"type": "string", "minLength": 1},
					"replacement_code": {"type": "string"}
				}
			}
		},
		"request_id": {"type": "string"},
		"parent_id": {"type": "string"},
		"call_id": {"type": "string"}
	}
}`

const spliceSchemaJSON = `{
	"type": "object",
	"required": ["edits"],
	"properties": {
		"edits": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["file_path", "expected_file_hash", "start_byte", "end_byte", "replacement"],
				"properties": {
					"file_path": {"type": "string", "minLength": 1},
					"expected_file_hash": {"type": "string", "minLength": 1},
					"start_byte": {"type": "integer", "minimum": 0},
					"end_byte": {"type": "integer", "minimum": 0},
					"replacement": {"type": "string"}
				}
			}
		},
		"request_id": {"type": "string"},
		"parent_id": {"type": "string"},
		"call_id": {"type": "string"}
	}
}`

// Resolver is the Edit Resolver.
type Resolver struct {
	store       *graph.Store
	fio         *fio.Engine
	registry    *proposal.Registry
	previewMode PreviewMode
	maxPreview  int

	canonicalSchema *jsonschema.Schema
	spliceSchema    *jsonschema.Schema
}

// New constructs a Resolver, compiling its two payload schemas.
func New(store *graph.Store, fe *fio.Engine, registry *proposal.Registry, previewMode PreviewMode, maxPreviewLines int) (*Resolver, error) {
	canonical, err := compileSchema("canonical.json", canonicalSchemaJSON)
	if err != nil {
		return nil, err
	}
	splice, err := compileSchema("splice.json", spliceSchemaJSON)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		store:           store,
		fio:             fe,
		registry:        registry,
		previewMode:     previewMode,
		maxPreview:      maxPreviewLines,
		canonicalSchema: canonical,
		spliceSchema:    splice,
	}, nil
}

func compileSchema(url, schemaJSON string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("resolver: add schema resource %s: %w", url, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("resolver: compile schema %s: %w", url, err)
	}
	return schema, nil
}

func validate(schema *jsonschema.Schema, payload map[string]interface{}) error {
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

func correlationFrom(payload map[string]interface{}) proposal.Correlation {
	get := func(k string) string {
		if v, ok := payload[k].(string); ok {
			return v
		}
		return ""
	}
	return proposal.Correlation{RequestID: get("request_id"), ParentID: get("parent_id"), CallID: get("call_id")}
}

// ResolveCanonical stages a canonical-mode batch: edits: [{file,
// canon_path, node_kind, replacement_code}, ...]. Each edit's current
// byte range and file tracking hash are looked up through the Code-Graph
// Store.
func (r *Resolver) ResolveCanonical(rawPayload json.RawMessage) (*proposal.EditProposal, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrSchemaViolation, err)
	}
	if err := validate(r.canonicalSchema, payload); err != nil {
		return nil, err
	}

	rawEdits, _ := payload["edits"].([]interface{})
	deduped := dedupRawEdits(rawEdits, []string{"file", "canon_path", "node_kind", "replacement_code"})

	edits := make([]proposal.Edit, 0, len(deduped))
	for _, em := range deduped {
		file := em["file"].(string)
		canonPath := em["canon_path"].(string)
		nodeKind := em["node_kind"].(string)
		replacement := em["replacement_code"].(string)

		node, err := r.store.ResolveNodesByCanonInFile(file, canonPath, nodeKind)
		if err != nil {
			return nil, err
		}
		if err := r.checkNoOverlap(file, node.StartByte, node.EndByte); err != nil {
			return nil, err
		}

		edits = append(edits, proposal.Edit{
			File:         file,
			CanonPath:    canonPath,
			NodeKind:     nodeKind,
			StartByte:    node.StartByte,
			EndByte:      node.EndByte,
			Replacement:  replacement,
			ExpectedHash: node.FileTrackingHash,
		})
	}
	if err := checkEditOverlaps(edits); err != nil {
		return nil, err
	}

	preview, err := r.buildBatchPreview(edits)
	if err != nil {
		return nil, err
	}

	p := proposal.EditProposal{
		Mode:        proposal.ModeCanonical,
		Edits:       edits,
		Preview:     preview,
		Correlation: correlationFrom(payload),
	}
	logging.ResolverDebug("resolve_canonical: %d edit(s) across %v", len(edits), proposal.FilesOf(edits))
	return r.registry.Stage(p)
}

// ResolveSplice stages a splice-mode batch: edits: [{file_path,
// expected_file_hash, start_byte, end_byte, replacement}, ...]. Bypasses
// the Code-Graph Store entirely; the caller supplies exact byte offsets.
func (r *Resolver) ResolveSplice(rawPayload json.RawMessage) (*proposal.EditProposal, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrSchemaViolation, err)
	}
	if err := validate(r.spliceSchema, payload); err != nil {
		return nil, err
	}

	rawEdits, _ := payload["edits"].([]interface{})
	deduped := dedupRawEdits(rawEdits, []string{"file_path", "start_byte", "end_byte", "replacement"})

	edits := make([]proposal.Edit, 0, len(deduped))
	for _, em := range deduped {
		file := em["file_path"].(string)
		expectedHashStr := em["expected_file_hash"].(string)
		startByte := int(em["start_byte"].(float64))
		endByte := int(em["end_byte"].(float64))
		replacement := em["replacement"].(string)

		expectedHash, err := hash.Parse(expectedHashStr)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid expected_file_hash: %v", ErrSchemaViolation, err)
		}
		if endByte < startByte {
			return nil, fmt.Errorf("%w: end_byte < start_byte", fio.ErrOutOfRange)
		}
		if err := r.checkNoOverlap(file, startByte, endByte); err != nil {
			return nil, err
		}

		edits = append(edits, proposal.Edit{
			File:         file,
			StartByte:    startByte,
			EndByte:      endByte,
			Replacement:  replacement,
			ExpectedHash: expectedHash,
		})
	}
	if err := checkEditOverlaps(edits); err != nil {
		return nil, err
	}

	preview, err := r.buildBatchPreview(edits)
	if err != nil {
		return nil, err
	}

	p := proposal.EditProposal{
		Mode:        proposal.ModeSplice,
		Edits:       edits,
		Preview:     preview,
		Correlation: correlationFrom(payload),
	}
	logging.ResolverDebug("resolve_splice: %d edit(s) across %v", len(edits), proposal.FilesOf(edits))
	return r.registry.Stage(p)
}

// dedupRawEdits collapses raw edit payloads that agree on every field in
// keyFields, preserving first-seen order (§4.5 step 1: same file + same
// byte range + same replacement is collapsed).
func dedupRawEdits(rawEdits []interface{}, keyFields []string) []map[string]interface{} {
	seen := make(map[string]bool, len(rawEdits))
	out := make([]map[string]interface{}, 0, len(rawEdits))
	for _, re := range rawEdits {
		em, ok := re.(map[string]interface{})
		if !ok {
			continue
		}
		parts := make([]string, len(keyFields))
		for i, f := range keyFields {
			parts[i] = fmt.Sprintf("%v", em[f])
		}
		key := strings.Join(parts, "\x1f")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, em)
	}
	return out
}

// checkEditOverlaps groups edits by file and rejects any pair of edits in
// the same file whose byte ranges overlap (§4.5 step 4).
func checkEditOverlaps(edits []proposal.Edit) error {
	byFile := make(map[string][]proposal.Edit)
	for _, e := range edits {
		byFile[e.File] = append(byFile[e.File], e)
	}
	for file, es := range byFile {
		sorted := append([]proposal.Edit(nil), es...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartByte < sorted[j].StartByte })
		for i := 1; i < len(sorted); i++ {
			if sorted[i-1].EndByte > sorted[i].StartByte {
				return fmt.Errorf("%w: %s [%d,%d) overlaps [%d,%d)", fio.ErrOverlappingRanges,
					file, sorted[i-1].StartByte, sorted[i-1].EndByte, sorted[i].StartByte, sorted[i].EndByte)
			}
		}
	}
	return nil
}

// checkNoOverlap rejects staging a new edit whose byte range overlaps any
// edit of an active (non-terminal) proposal already staged for file.
func (r *Resolver) checkNoOverlap(file string, start, end int) error {
	for _, active := range r.registry.ActiveForFile(file) {
		for _, e := range active.Edits {
			if e.File != file {
				continue
			}
			if start < e.EndByte && e.StartByte < end {
				return fmt.Errorf("%w: existing proposal %s covers [%d,%d)", ErrDuplicateProposal, active.ID, e.StartByte, e.EndByte)
			}
		}
	}
	return nil
}

// buildBatchPreview reads each affected file once, applies that file's
// edits in descending start-byte order to compute its post-apply content,
// and renders the configured preview format across all affected files.
func (r *Resolver) buildBatchPreview(edits []proposal.Edit) (string, error) {
	byFile := make(map[string][]proposal.Edit)
	for _, e := range edits {
		byFile[e.File] = append(byFile[e.File], e)
	}

	var b strings.Builder
	for _, file := range proposal.FilesOf(edits) {
		fileEdits := byFile[file]
		content, err := r.fio.ReadVerified(file, fileEdits[0].ExpectedHash)
		if err != nil {
			return "", err
		}
		newContent, err := spliceContent(string(content), fileEdits)
		if err != nil {
			return "", err
		}

		fd := diff.ComputeDiff(file, file, string(content), newContent)
		switch r.previewMode {
		case PreviewCodeBlocks:
			blocks := diff.RenderCodeBlocks(fd, r.maxPreview)
			for i, blk := range blocks {
				fmt.Fprintf(&b, "--- %s hunk %d before ---\n%s\n--- %s hunk %d after ---\n%s\n", file, i+1, blk.Before, file, i+1, blk.After)
			}
		default:
			b.WriteString(diff.RenderUnified(fd))
		}
	}
	return b.String(), nil
}

// spliceContent applies edits to content in descending start-byte order,
// mirroring the File I/O Engine's own splice so the preview matches what
// write_batch will actually produce.
func spliceContent(content string, edits []proposal.Edit) (string, error) {
	sorted := append([]proposal.Edit(nil), edits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartByte > sorted[j].StartByte })

	out := content
	for _, e := range sorted {
		if e.StartByte < 0 || e.EndByte > len(out) || e.StartByte > e.EndByte {
			return "", fmt.Errorf("%w: [%d,%d) in file of length %d", fio.ErrOutOfRange, e.StartByte, e.EndByte, len(out))
		}
		out = out[:e.StartByte] + e.Replacement + out[e.EndByte:]
	}
	return out, nil
}
