package packager

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/tools/filesystem/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sourceTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, p := range []string{
		"lambda_function.py",
		"lib/helpers.py",
		"lib/__pycache__/helpers.cpython-312.pyc",
		"tests/test_handler.py",
		"test_local.py",
		".env",
		".env.production",
		".git/HEAD",
		".venv/bin/python",
		"requirements-dev.txt",
		"requirements.txt",
		"node_modules/.cache/x",
		"node_modules/left-pad/index.js",
		"README.md",
		"dist/old.zip",
	} {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(p), 0o644))
	}
	return root
}

func specFor(root string) *config.DeploymentSpec {
	return &config.DeploymentSpec{
		SourceDir:   root,
		OutputDir:   filepath.Join(root, "dist"),
		PackageName: "lambda-package.zip",
		Runtime:     "python3.12",
		Handler:     "lambda_function.lambda_handler",
	}
}

func TestCollectExcludesDevelopmentPaths(t *testing.T) {
	root := sourceTree(t)
	spec := specFor(root)
	spec.Exclude = []string{"*.md"}

	names, err := New(spec, logging.New(io.Discard)).Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"lambda_function.py",
		"lib/helpers.py",
		"node_modules/left-pad/index.js",
		"requirements.txt",
	}, names)
}

func TestCollectExcludesStaleDist(t *testing.T) {
	root := sourceTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "dist", "stale.py"), []byte("old"), 0o644))
	spec := specFor(root)
	spec.OutputDir = filepath.Join(root, "build")

	names, err := New(spec, logging.New(io.Discard)).Collect()
	require.NoError(t, err)
	assert.NotContains(t, names, "dist/stale.py")
	assert.Contains(t, names, "lambda_function.py")
}

func TestCollectExplicitSourceFiles(t *testing.T) {
	root := sourceTree(t)
	spec := specFor(root)
	spec.SourceFiles = []string{"lambda_function.py", "lib", "*.txt", "missing.py", ".env"}

	names, err := New(spec, logging.New(io.Discard)).Collect()
	require.NoError(t, err)
	assert.Equal(t, []string{"lambda_function.py", "lib/helpers.py", "requirements.txt"}, names)
}

func TestCollectRejectsEscapingPaths(t *testing.T) {
	root := sourceTree(t)
	outside := filepath.Join(t.TempDir(), "secret.py")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	spec := specFor(root)
	spec.SourceFiles = []string{outside}

	_, err := New(spec, logging.New(io.Discard)).Collect()
	require.ErrorIs(t, err, ErrInvalidPackage)
}

func TestCollectNothing(t *testing.T) {
	spec := specFor(t.TempDir())
	spec.SourceFiles = []string{"missing.py"}
	_, err := New(spec, logging.New(io.Discard)).Collect()
	require.ErrorIs(t, err, ErrNoFiles)
}

func TestBuildIsReproducible(t *testing.T) {
	root := sourceTree(t)
	spec := specFor(root)
	p := New(spec, logging.New(io.Discard))

	first, err := p.Build()
	require.NoError(t, err)
	second, err := p.Build()
	require.NoError(t, err)

	assert.Equal(t, first.SHA256, second.SHA256)
	assert.Equal(t, first.Size, second.Size)
	assert.False(t, first.RequiresS3())

	entries, err := zip.Entries(first.Path)
	require.NoError(t, err)
	assert.NotContains(t, entries, "dist/lambda-package.zip")
	assert.NotContains(t, entries, ".env")
	require.NoError(t, Verify(first.Path, spec.Runtime, spec.Handler, []string{"requirements.txt"}))
}

func TestVerifyMissingHandler(t *testing.T) {
	root := sourceTree(t)
	spec := specFor(root)
	spec.Handler = "app.handler"
	pkg, err := New(spec, logging.New(io.Discard)).Build()
	require.NoError(t, err)

	err = Verify(pkg.Path, spec.Runtime, spec.Handler, nil)
	require.ErrorIs(t, err, ErrInvalidPackage)
	assert.Contains(t, err.Error(), "app.py")

	err = Verify(pkg.Path, spec.Runtime, "lambda_function.lambda_handler", []string{"config.json"})
	require.ErrorIs(t, err, ErrInvalidPackage)
}

func TestHandlerFiles(t *testing.T) {
	assert.Equal(t, []string{"pkg/app.py"}, HandlerFiles("python3.12", "pkg.app.handler"))
	assert.Equal(t, []string{"src/index.js", "src/index.mjs", "src/index.cjs"}, HandlerFiles("nodejs20.x", "src/index.handler"))
	assert.Equal(t, []string{"bootstrap"}, HandlerFiles("provided.al2023", "bootstrap"))
	assert.Nil(t, HandlerFiles("java21", "example.Handler::handleRequest"))
}

func TestMatcher(t *testing.T) {
	m := NewMatcher(DefaultExcludes, []string{"docs/", "./scripts/*.sh"})
	assert.True(t, m.Excluded("a/b/__pycache__/c.pyc"))
	assert.True(t, m.Excluded("docs/index.md"))
	assert.True(t, m.Excluded("scripts/deploy.sh"))
	assert.True(t, m.Excluded("node_modules/.cache/x"))
	assert.False(t, m.Excluded("node_modules/pkg/index.js"))
	assert.False(t, m.Excluded("scripts/run.py"))
	assert.False(t, m.Excluded("handler.py"))
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", HumanSize(512))
	assert.Equal(t, "1.5 KiB", HumanSize(1536))
	assert.Equal(t, "50.0 MiB", HumanSize(MaxDirectUploadSize))
}
