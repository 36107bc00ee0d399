package prebundle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addPackage(t *testing.T, root, name, packageJSON string, files ...string) {
	t.Helper()
	dir := filepath.Join(root, "node_modules", filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(packageJSON), 0o644))
	for _, file := range files {
		full := filepath.Join(dir, filepath.FromSlash(file))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("export default 1"), 0o644))
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	addPackage(t, root, "monaco-editor",
		`{"name":"monaco-editor","version":"0.52.2","module":"./esm/vs/editor/editor.main.js","main":"./min/vs/editor/editor.main.js"}`,
		"esm/vs/editor/editor.main.js")
	addPackage(t, root, "@scope/lib", `{"name":"@scope/lib","version":"1.0.0","main":"dist/lib.js"}`, "dist/lib.js")
	addPackage(t, root, "plain", `{"name":"plain"}`, "index.js")

	entries, err := Resolve(root, []string{"monaco-editor", "missing", "@scope/lib", "plain", "monaco-editor"})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "monaco-editor", entries[0].Name)
	assert.Equal(t, "0.52.2", entries[0].Version)
	assert.Equal(t, "esm/vs/editor/editor.main.js", entries[0].File)
	assert.Equal(t, "/@deps/monaco-editor/", entries[0].Prefix())
	assert.Equal(t, "/@deps/monaco-editor/esm/vs/editor/editor.main.js", entries[0].URL())

	assert.Equal(t, "/@deps/@scope/lib/dist/lib.js", entries[1].URL())
	assert.Equal(t, "index.js", entries[2].File)
}

func TestResolveFallsBackToMain(t *testing.T) {
	root := t.TempDir()
	addPackage(t, root, "legacy", `{"module":"esm/missing.js","main":"lib/index.js"}`, "lib/index.js")
	entries, err := Resolve(root, []string{"legacy"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "lib/index.js", entries[0].File)
}

func TestResolveErrors(t *testing.T) {
	root := t.TempDir()
	addPackage(t, root, "broken", `{"name":`)
	_, err := Resolve(root, []string{"broken"})
	assert.Error(t, err)

	addPackage(t, root, "empty", `{"name":"empty"}`)
	_, err = Resolve(root, []string{"empty"})
	assert.Error(t, err)
}
