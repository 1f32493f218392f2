package linenoise

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistorySaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")

	Line.AppendHistory("first command")
	Line.AppendHistory("second command")
	require.NoError(t, Line.HistorySave(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first command")
	assert.Contains(t, string(data), "second command")

	assert.NoError(t, Line.HistoryLoad(path))
}

func TestHistoryLoadMissingFile(t *testing.T) {
	err := Line.HistoryLoad(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err, "a missing history file is reported, not fatal")
}
