//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"document_id":"doc-1"}`), 0o644))

	var dst map[string]string
	require.NoError(t, readJSONFile(path, &dst))
	assert.Equal(t, "doc-1", dst["document_id"])
}

func TestReadJSONFile_Missing(t *testing.T) {
	var dst map[string]string
	err := readJSONFile(filepath.Join(t.TempDir(), "absent.json"), &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read")
}

func TestReadJSONFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	var dst map[string]string
	err := readJSONFile(path, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}
