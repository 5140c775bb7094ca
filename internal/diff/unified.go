package diff

import (
	"fmt"
	"strings"
)

// RenderUnified renders a FileDiff as unified-diff text, the format the
// Edit Resolver attaches to a proposal when config.Editing.PreviewMode
// is PreviewDiff.
func RenderUnified(fd *FileDiff) string {
	var b strings.Builder
	oldLabel, newLabel := fd.OldPath, fd.NewPath
	if fd.IsNew {
		oldLabel = "/dev/null"
	}
	if fd.IsDelete {
		newLabel = "/dev/null"
	}
	fmt.Fprintf(&b, "--- %s\n", oldLabel)
	fmt.Fprintf(&b, "+++ %s\n", newLabel)

	for _, h := range fd.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, line := range h.Lines {
			switch line.Type {
			case LineAdded:
				fmt.Fprintf(&b, "+%s\n", line.Content)
			case LineRemoved:
				fmt.Fprintf(&b, "-%s\n", line.Content)
			default:
				fmt.Fprintf(&b, " %s\n", line.Content)
			}
		}
	}
	return b.String()
}

// CodeBlock is a single rendered before/after pair for PreviewCodeBlocks
// mode: one block per hunk, each showing only the lines that changed
// (plus the hunk's context) without unified +/- markers.
type CodeBlock struct {
	Before string
	After  string
}

// RenderCodeBlocks renders a FileDiff's hunks as before/after code block
// pairs, truncating each side to maxLines (0 means unlimited) per
// config.Editing.MaxPreviewLines.
func RenderCodeBlocks(fd *FileDiff, maxLines int) []CodeBlock {
	blocks := make([]CodeBlock, 0, len(fd.Hunks))
	for _, h := range fd.Hunks {
		var before, after []string
		for _, line := range h.Lines {
			switch line.Type {
			case LineRemoved, LineContext:
				before = append(before, line.Content)
			}
			switch line.Type {
			case LineAdded, LineContext:
				after = append(after, line.Content)
			}
		}
		blocks = append(blocks, CodeBlock{
			Before: truncateLines(before, maxLines),
			After:  truncateLines(after, maxLines),
		})
	}
	return blocks
}

func truncateLines(lines []string, maxLines int) string {
	if maxLines > 0 && len(lines) > maxLines {
		lines = append(append([]string{}, lines[:maxLines]...), fmt.Sprintf("... (%d more lines)", len(lines)-maxLines))
	}
	return strings.Join(lines, "\n")
}
