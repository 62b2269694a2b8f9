package files

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(p), 0o644))
	}
}

func TestGetFilesSkipsPrunedDirectories(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "app.py", "lib/util.py", ".git/config", "lib/__pycache__/util.pyc")

	got, err := GetFiles(root, func(rel string, isDir bool) bool {
		base := filepath.Base(rel)
		return base == ".git" || base == "__pycache__"
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"app.py", "lib/util.py"}, got)
}

func TestPrettyJSONToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, PrettyJSONToFile(dir, "plan.json", map[string]string{"a": "b"}))

	data, err := os.ReadFile(filepath.Join(dir, "plan.json"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"a": "b"`))
	assert.True(t, Exists(filepath.Join(dir, "plan.json")))
	assert.False(t, Exists(filepath.Join(dir, "missing.json")))
}

func TestNormalizePath(t *testing.T) {
	assert.True(t, filepath.IsAbs(NormalizePath(".")))
	if usr, err := user.Current(); err == nil {
		assert.Equal(t, filepath.Join(usr.HomeDir, "src"), NormalizePath("~/src"))
	}
}
