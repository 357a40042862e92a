package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestNeedsBundling(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   bool
	}{
		{"plain", `var db = libsql.open(":memory:");`, false},
		{"import statement", `import { foo } from './utils.js';`, true},
		{"import no space", `import{foo} from './utils.js';`, true},
		{"dynamic import", `const m = import('./mod.js');`, true},
		{"comment with import word", "// this is important\nvar x = 1;", false},
		{"require call", `const u = require('./u');`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsBundling(tt.source))
		})
	}
}

func TestBundlePlainScriptUnchanged(t *testing.T) {
	src := `var db = libsql.open(":memory:");`
	path := writeFile(t, t.TempDir(), "main.js", src)

	got, err := Bundle(path)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestBundleWithImports(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "schema.js", `export const createTable = "CREATE TABLE t (x INTEGER)";`)
	path := writeFile(t, dir, "main.js", `import { createTable } from './schema.js';
globalThis.result = createTable;`)

	got, err := Bundle(path)
	require.NoError(t, err)
	assert.Contains(t, got, "CREATE TABLE t (x INTEGER)")
	assert.NotContains(t, got, "import ")
}

func TestBundleTypeScript(t *testing.T) {
	path := writeFile(t, t.TempDir(), "main.ts", `const n: number = 42;
globalThis.result = n;`)

	got, err := Bundle(path)
	require.NoError(t, err)
	assert.NotContains(t, got, ": number")
	assert.Contains(t, got, "42")
}

func TestBundleErrors(t *testing.T) {
	_, err := Bundle(filepath.Join(t.TempDir(), "missing.js"))
	assert.Error(t, err)

	path := writeFile(t, t.TempDir(), "main.js", `import { x } from './nowhere.js'; x();`)
	_, err = Bundle(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bundling main.js")
}
