// Package localtest runs a built package on this machine before it is deployed.
package localtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/tools/filesystem/zip"
)

var ErrUnsupportedRuntime = errors.New("runtime cannot be tested locally")

// FunctionError is the error document of a failed invocation, in the Lambda format.
type FunctionError struct {
	ErrorType    string   `json:"errorType"`
	ErrorMessage string   `json:"errorMessage"`
	StackTrace   []string `json:"stackTrace,omitempty"`
}

func (e *FunctionError) Error() string {
	if e.ErrorType == "" {
		return e.ErrorMessage
	}
	return e.ErrorType + ": " + e.ErrorMessage
}

// Result is the outcome of a local invocation.
type Result struct {
	Output   json.RawMessage `json:"output,omitempty"`
	Error    *FunctionError  `json:"error,omitempty"`
	Logs     string          `json:"logs,omitempty"`
	Duration time.Duration   `json:"duration"`
	Passed   bool            `json:"passed"`
}

// Invocation carries what a handler sees besides the event.
type Invocation struct {
	RequestID   string
	FunctionARN string
	Event       []byte
}

type Tester struct {
	spec   *config.DeploymentSpec
	logger logging.LogManager

	// Python and Node are the interpreters used for the matching runtimes.
	Python string
	Node   string
}

func New(spec *config.DeploymentSpec, logger logging.LogManager) *Tester {
	return &Tester{spec: spec, logger: logger, Python: "python3", Node: "node"}
}

// Run invokes the handler of the package at pkgPath with the invocation event,
// then evaluates the configured assertion on its result.
func (t *Tester) Run(ctx context.Context, pkgPath string, inv Invocation) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(t.spec.Timeout)*time.Second)
	defer cancel()

	start := time.Now()
	var (
		result *Result
		err    error
	)
	if t.spec.LocalEndpoint != "" {
		t.logger.Info("Invoking the runtime interface emulator", "endpoint", t.spec.LocalEndpoint)
		result, err = invokeEndpoint(ctx, t.spec.LocalEndpoint, inv.Event, time.Duration(t.spec.Timeout)*time.Second)
	} else {
		result, err = t.runPackage(ctx, pkgPath, inv)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("local invocation timed out after %ds: %w", t.spec.Timeout, err)
		}
		return nil, err
	}
	result.Duration = time.Since(start)

	if result.Error != nil {
		t.logger.Error("Handler failed", "type", result.Error.ErrorType, "message", result.Error.ErrorMessage)
		return result, fmt.Errorf("%w: handler returned %v", ErrAssertion, result.Error)
	}
	passed, err := Assert(t.spec.LocalAssert, result.Output)
	if err != nil {
		return result, err
	}
	result.Passed = passed
	if !passed {
		return result, fmt.Errorf("%w: %s is not true for %s", ErrAssertion, t.spec.LocalAssert, string(result.Output))
	}
	t.logger.Info("Local test passed", "assert", t.spec.LocalAssert, "duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

func (t *Tester) runPackage(ctx context.Context, pkgPath string, inv Invocation) (*Result, error) {
	dir, err := os.MkdirTemp("", "lambda-deploy-local-")
	if err != nil {
		return nil, fmt.Errorf("create local test directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := zip.Unzip(pkgPath, dir); err != nil {
		return nil, fmt.Errorf("extract %s: %w", pkgPath, err)
	}
	t.logger.Debug("Package extracted", "dir", dir)

	env := t.environment(dir, inv)
	switch {
	case strings.HasPrefix(t.spec.Runtime, "python"):
		return runShim(ctx, t.Python, "shim.py", pythonShim, dir, t.spec.Handler, inv.Event, env)
	case strings.HasPrefix(t.spec.Runtime, "nodejs"):
		return runShim(ctx, t.Node, "shim.cjs", nodeShim, dir, t.spec.Handler, inv.Event, env)
	case strings.HasPrefix(t.spec.Runtime, "provided"):
		return runBootstrap(ctx, filepath.Join(dir, "bootstrap"), dir, inv, env)
	default:
		return nil, fmt.Errorf("%w: %s, set %s to a runtime interface emulator", ErrUnsupportedRuntime, t.spec.Runtime, config.EnvName(config.KeyLocalEndpoint))
	}
}

// environment is the process environment of the handler: the variables the
// function gets once deployed plus the ones the Lambda runtime sets.
func (t *Tester) environment(dir string, inv Invocation) []string {
	env := os.Environ()
	if fnEnv, _, err := t.spec.LambdaEnvironment(config.Environ(env)); err == nil {
		for _, k := range sortedKeys(fnEnv) {
			env = append(env, k+"="+fnEnv[k])
		}
	}
	return append(env,
		"LAMBDA_TASK_ROOT="+dir,
		"_HANDLER="+t.spec.Handler,
		"AWS_REGION="+t.spec.Region,
		"AWS_LAMBDA_FUNCTION_NAME="+t.spec.FunctionName,
		"AWS_LAMBDA_FUNCTION_VERSION=$LATEST",
		"AWS_LAMBDA_FUNCTION_MEMORY_SIZE="+strconv.Itoa(int(t.spec.MemorySize)),
		"AWS_LAMBDA_FUNCTION_TIMEOUT="+strconv.Itoa(int(t.spec.Timeout)),
		"AWS_LAMBDA_LOG_GROUP_NAME=/aws/lambda/"+t.spec.FunctionName,
		"AWS_LAMBDA_LOG_STREAM_NAME=local",
		"LAMBDA_DEPLOY_REQUEST_ID="+inv.RequestID,
		"LAMBDA_DEPLOY_FUNCTION_ARN="+inv.FunctionARN,
	)
}

// shimOutput is what the interpreter shims write once the handler returns.
type shimOutput struct {
	Result json.RawMessage `json:"result"`
	Error  *FunctionError  `json:"error"`
}

func decodeShimOutput(raw []byte, logs *bytes.Buffer) (*Result, error) {
	var out shimOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode handler result: %w", err)
	}
	return &Result{Output: out.Result, Error: out.Error, Logs: logs.String()}, nil
}
