package namespace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest_YAMLFrontmatter(t *testing.T) {
	dir := t.TempDir()
	content := "---\nname: widget-factory\ndescription: builds widgets\n---\n\n# Widget Factory\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".memento.yaml"), []byte(content), 0o644))

	m, err := ParseManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "widget-factory", m.Name)
	assert.Equal(t, "builds widgets", m.Description)
}

func TestParseManifest_HeadingFallback(t *testing.T) {
	dir := t.TempDir()
	content := "# Widget Factory\n\nBuilds widgets for the assembly line.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte(content), 0o644))

	m, err := ParseManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "Widget Factory", m.Name)
	assert.Equal(t, "Builds widgets for the assembly line.", m.Description)
}

func TestParseManifest_PartialContentTolerated(t *testing.T) {
	dir := t.TempDir()
	content := "---\ndescription: only a description\n---\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".memento.yaml"), []byte(content), 0o644))

	m, err := ParseManifest(dir)
	require.NoError(t, err)
	assert.Empty(t, m.Name)
	assert.Equal(t, "only a description", m.Description)
}

func TestParseManifest_NoManifestFile(t *testing.T) {
	dir := t.TempDir()
	m, err := ParseManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, Manifest{}, m)
}

func TestParseManifest_MalformedYAMLDoesNotError(t *testing.T) {
	dir := t.TempDir()
	content := "---\nname: [unterminated\n---\n# Fallback Title\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".memento.yaml"), []byte(content), 0o644))

	m, err := ParseManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, "Fallback Title", m.Name)
}
