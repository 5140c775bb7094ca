package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, PreviewDiff, cfg.Editing.PreviewMode)
	assert.False(t, cfg.Editing.AutoConfirmEdits)
	assert.Equal(t, 300, cfg.Editing.MaxPreviewLines)
	assert.Equal(t, []string{"."}, cfg.Workspace.Roots)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "ploke.yaml"))
	require.NoError(t, err)
	assert.Equal(t, PreviewDiff, cfg.Editing.PreviewMode)
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ploke.yaml")
	content := `
editing:
  auto_confirm_edits: true
  preview_mode: codeblocks
  max_preview_lines: 50
workspace:
  roots:
    - /w/project
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Editing.AutoConfirmEdits)
	assert.Equal(t, PreviewCodeBlocks, cfg.Editing.PreviewMode)
	assert.Equal(t, 50, cfg.Editing.MaxPreviewLines)
	assert.Equal(t, []string{"/w/project"}, cfg.Workspace.Roots)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "ploke.yaml")

	cfg := DefaultConfig()
	cfg.Editing.AutoConfirmEdits = true
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.Editing.AutoConfirmEdits)
}

func TestIsPathAllowed(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Workspace.Roots = []string{dir}

	assert.True(t, cfg.IsPathAllowed(filepath.Join(dir, "src", "lib.go")))
	assert.False(t, cfg.IsPathAllowed(filepath.Join(dir, "..", "outside.go")))
}
