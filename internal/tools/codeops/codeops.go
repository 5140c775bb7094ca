// Package codeops wires ploke's three agent-facing tools — apply_code_edit,
// get_file_metadata, and get_elements — to the State Manager and
// Code-Graph Store. It replaces the teacher's regex-based Code DOM tool
// bundle: element listings and edit proposals here come from the
// tree-sitter-backed index rather than line-pattern matching, since
// ploke already maintains that index for the Edit Resolver.
package codeops

import (
	"context"
	"encoding/json"
	"fmt"

	"ploke/internal/graph"
	"ploke/internal/statemgr"
	"ploke/internal/tools"
)

// RegisterAll registers every ploke tool with registry.
func RegisterAll(registry *tools.Registry, mgr *statemgr.Manager, store *graph.Store) error {
	for _, t := range []*tools.Tool{
		ApplyCodeEditTool(mgr),
		GetFileMetadataTool(store),
		GetElementsTool(store),
	} {
		if err := registry.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// ApplyCodeEditTool proposes a batch of edits without writing them: the
// payload's edits are routed to canonical- or splice-mode resolution
// depending on whether the first edit carries canon_path, staged as one
// proposal through the State Manager, and the resulting proposal (with
// its rendered preview) is returned for a human to approve or deny.
func ApplyCodeEditTool(mgr *statemgr.Manager) *tools.Tool {
	return &tools.Tool{
		Name:        "apply_code_edit",
		Description: "Propose an ordered batch of edits, addressing elements by canonical path or by byte range splice, across one or more files. Returns a pending proposal with a preview; nothing is written until approved.",
		Category:    tools.CategoryEdit,
		Priority:    90,
		Execute:     executeApplyCodeEdit(mgr),
		Schema: tools.Schema{
			Required: []string{"edits"},
			Properties: map[string]tools.Property{
				"edits": {
					Type: "array",
					Description: "Ordered edits staged as one proposal. Canonical-mode items: {file, canon_path, node_kind, replacement_code}. Splice-mode items: {file_path, expected_file_hash, start_byte, end_byte, replacement}. All items in a call must share one mode.",
					Items: &tools.PropertyItems{Type: "object"},
				},
			},
		},
	}
}

func executeApplyCodeEdit(mgr *statemgr.Manager) tools.ExecuteFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		payload, err := json.Marshal(args)
		if err != nil {
			return "", fmt.Errorf("apply_code_edit: marshal args: %w", err)
		}

		var p *proposalView
		if isCanonicalBatch(args) {
			staged, err := mgr.ResolveCanonical(payload)
			if err != nil {
				return "", err
			}
			p = fromProposal(staged)
		} else {
			staged, err := mgr.ResolveSplice(payload)
			if err != nil {
				return "", err
			}
			p = fromProposal(staged)
		}

		out, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return "", fmt.Errorf("apply_code_edit: marshal result: %w", err)
		}
		return string(out), nil
	}
}

// isCanonicalBatch inspects the first edit in the batch to decide which
// resolution mode the whole call addresses; callers do not mix modes
// within a single apply_code_edit invocation.
func isCanonicalBatch(args map[string]any) bool {
	edits, _ := args["edits"].([]any)
	if len(edits) == 0 {
		return false
	}
	first, ok := edits[0].(map[string]any)
	if !ok {
		return false
	}
	_, hasCanonPath := first["canon_path"]
	return hasCanonPath
}

// GetFileMetadataTool reports a file's current index state: tracking
// hash, modification time, size, and node count.
func GetFileMetadataTool(store *graph.Store) *tools.Tool {
	return &tools.Tool{
		Name:        "get_file_metadata",
		Description: "Return the indexed tracking hash, size, and node count for a file",
		Category:    tools.CategoryInspect,
		Priority:    70,
		Execute:     executeGetFileMetadata(store),
		Schema: tools.Schema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path": {Type: "string", Description: "File path to inspect"},
			},
		},
	}
}

func executeGetFileMetadata(store *graph.Store) tools.ExecuteFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path, _ := args["path"].(string)
		record, err := store.GetFileRecord(path)
		if err != nil {
			return "", err
		}
		out, err := json.MarshalIndent(fileMetadataView{
			Path:         record.Path,
			TrackingHash: record.TrackingHash.String(),
			ModTime:      record.ModTime,
			Size:         record.Size,
			NodeCount:    record.NodeCount,
		}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("get_file_metadata: marshal: %w", err)
		}
		return string(out), nil
	}
}

// GetElementsTool lists every indexed code element (function, method,
// struct, interface) in a file, optionally filtered by node kind.
func GetElementsTool(store *graph.Store) *tools.Tool {
	return &tools.Tool{
		Name:        "get_elements",
		Description: "List indexed code elements (functions, methods, structs, interfaces) in a file",
		Category:    tools.CategoryInspect,
		Priority:    70,
		Execute:     executeGetElements(store),
		Schema: tools.Schema{
			Required: []string{"path"},
			Properties: map[string]tools.Property{
				"path":      {Type: "string", Description: "File path to list elements from"},
				"node_kind": {Type: "string", Description: "Restrict results to this node kind"},
			},
		},
	}
}

func executeGetElements(store *graph.Store) tools.ExecuteFunc {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path, _ := args["path"].(string)
		filterKind, _ := args["node_kind"].(string)

		nodes, err := store.ListNodesInFile(path)
		if err != nil {
			return "", err
		}

		elements := make([]elementView, 0, len(nodes))
		for _, n := range nodes {
			if filterKind != "" && n.NodeKind != filterKind {
				continue
			}
			elements = append(elements, elementView{
				CanonPath: n.CanonPath,
				NodeKind:  n.NodeKind,
				StartByte: n.StartByte,
				EndByte:   n.EndByte,
			})
		}

		out, err := json.MarshalIndent(elements, "", "  ")
		if err != nil {
			return "", fmt.Errorf("get_elements: marshal: %w", err)
		}
		return string(out), nil
	}
}
