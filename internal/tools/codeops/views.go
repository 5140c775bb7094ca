package codeops

import (
	"time"

	"ploke/internal/proposal"
)

// proposalView is the JSON shape returned to the caller of
// apply_code_edit: enough to show a human the preview and let them
// approve or deny by ID, without leaking internal EditProposal fields.
type proposalView struct {
	ID      string   `json:"id"`
	State   string   `json:"state"`
	Mode    string   `json:"mode"`
	Files   []string `json:"files"`
	Preview string   `json:"preview"`
}

func fromProposal(p *proposal.EditProposal) *proposalView {
	return &proposalView{
		ID:      p.ID,
		State:   string(p.State),
		Mode:    string(p.Mode),
		Files:   p.Files,
		Preview: p.Preview,
	}
}

type fileMetadataView struct {
	Path         string    `json:"path"`
	TrackingHash string    `json:"tracking_hash"`
	ModTime      time.Time `json:"mod_time"`
	Size         int64     `json:"size"`
	NodeCount    int       `json:"node_count"`
}

type elementView struct {
	CanonPath string `json:"canon_path"`
	NodeKind  string `json:"node_kind"`
	StartByte int    `json:"start_byte"`
	EndByte   int    `json:"end_byte"`
}
