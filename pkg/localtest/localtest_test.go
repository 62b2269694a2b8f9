package localtest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/tools/filesystem/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() *config.DeploymentSpec {
	return &config.DeploymentSpec{
		FunctionName: "fn",
		Handler:      "lambda_function.lambda_handler",
		Runtime:      "python3.12",
		Region:       "eu-west-1",
		Timeout:      30,
		MemorySize:   128,
		LocalAssert:  ".statusCode == 200",
	}
}

func buildPackage(t *testing.T, files map[string]string) string {
	t.Helper()
	src := t.TempDir()
	var names []string
	for name, content := range files {
		require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(src, name)), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(src, name), []byte(content), 0o644))
		names = append(names, name)
	}
	dst := filepath.Join(t.TempDir(), "lambda-package.zip")
	require.NoError(t, zip.Zip(dst, src, names))
	return dst
}

func TestRunPython(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	pkg := buildPackage(t, map[string]string{
		"lambda_function.py": "import os\n\ndef lambda_handler(event, context):\n    print('source', event['source'])\n    return {'statusCode': 200, 'function': context.function_name}\n",
	})
	tester := New(testSpec(), logging.New(io.Discard))

	result, err := tester.Run(context.Background(), pkg, invocation())
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.JSONEq(t, `{"statusCode":200,"function":"fn"}`, string(result.Output))
	assert.Contains(t, result.Logs, "source aws.scheduler")
}

func TestRunPythonFailure(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	pkg := buildPackage(t, map[string]string{
		"lambda_function.py": "def lambda_handler(event, context):\n    raise ValueError('bad input')\n",
	})
	tester := New(testSpec(), logging.New(io.Discard))

	result, err := tester.Run(context.Background(), pkg, invocation())
	require.ErrorIs(t, err, ErrAssertion)
	require.NotNil(t, result.Error)
	assert.Equal(t, "ValueError", result.Error.ErrorType)
	assert.Equal(t, "bad input", result.Error.ErrorMessage)
}

func TestRunNode(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not available")
	}
	spec := testSpec()
	spec.Runtime = "nodejs20.x"
	spec.Handler = "index.handler"
	pkg := buildPackage(t, map[string]string{
		"index.js": "exports.handler = async (event) => ({ statusCode: 200, source: event.source });\n",
	})

	result, err := New(spec, logging.New(io.Discard)).Run(context.Background(), pkg, invocation())
	require.NoError(t, err)
	assert.JSONEq(t, `{"statusCode":200,"source":"aws.scheduler"}`, string(result.Output))
}

func TestRunEndpoint(t *testing.T) {
	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, invocationsPath, r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		received <- string(body)
		_, _ = w.Write([]byte(`{"statusCode":200}`))
	}))
	defer server.Close()

	spec := testSpec()
	spec.LocalEndpoint = server.URL
	result, err := New(spec, logging.New(io.Discard)).Run(context.Background(), "", invocation())
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.JSONEq(t, `{"source":"aws.scheduler"}`, <-received)
}

func TestRunEndpointFunctionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorType":"KeyError","errorMessage":"'records'"}`))
	}))
	defer server.Close()

	spec := testSpec()
	spec.LocalEndpoint = server.URL + invocationsPath
	result, err := New(spec, logging.New(io.Discard)).Run(context.Background(), "", invocation())
	require.ErrorIs(t, err, ErrAssertion)
	require.NotNil(t, result.Error)
	assert.Equal(t, "KeyError", result.Error.ErrorType)
}

func TestRunAssertionFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"statusCode":503}`))
	}))
	defer server.Close()

	spec := testSpec()
	spec.LocalEndpoint = server.URL
	result, err := New(spec, logging.New(io.Discard)).Run(context.Background(), "", invocation())
	require.ErrorIs(t, err, ErrAssertion)
	assert.False(t, result.Passed)
}

func TestRunUnsupportedRuntime(t *testing.T) {
	spec := testSpec()
	spec.Runtime = "java21"
	pkg := buildPackage(t, map[string]string{"Handler.class": "x"})
	_, err := New(spec, logging.New(io.Discard)).Run(context.Background(), pkg, invocation())
	require.ErrorIs(t, err, ErrUnsupportedRuntime)
}

func TestAsFunctionError(t *testing.T) {
	assert.Nil(t, asFunctionError([]byte(`{"statusCode":200}`), ""))
	assert.Nil(t, asFunctionError([]byte(`"ok"`), ""))
	assert.NotNil(t, asFunctionError([]byte(`"boom"`), "Unhandled"))
	fe := asFunctionError([]byte(`{"errorMessage":"x","errorType":"E","stackTrace":[]}`), "")
	require.NotNil(t, fe)
	assert.Equal(t, "E", fe.ErrorType)
}
