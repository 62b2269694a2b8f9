package localtest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// The shims load the handler from the extracted package, call it with the event
// read from stdin and a Lambda-like context, and write {"result"} or {"error"} to
// the file given as third argument. Stdout and stderr are the function logs.

const pythonShim = `import importlib, json, os, sys, time, traceback

root, handler, out_path = sys.argv[1], sys.argv[2], sys.argv[3]
sys.path.insert(0, root)
os.chdir(root)
deadline = time.time() + float(os.environ.get("AWS_LAMBDA_FUNCTION_TIMEOUT", "3"))


class Context:
    function_name = os.environ.get("AWS_LAMBDA_FUNCTION_NAME", "")
    function_version = "$LATEST"
    invoked_function_arn = os.environ.get("LAMBDA_DEPLOY_FUNCTION_ARN", "")
    memory_limit_in_mb = int(os.environ.get("AWS_LAMBDA_FUNCTION_MEMORY_SIZE", "128"))
    aws_request_id = os.environ.get("LAMBDA_DEPLOY_REQUEST_ID", "")
    log_group_name = os.environ.get("AWS_LAMBDA_LOG_GROUP_NAME", "")
    log_stream_name = "local"

    def get_remaining_time_in_millis(self):
        return max(0, int((deadline - time.time()) * 1000))


try:
    event = json.load(sys.stdin)
    module_name, _, func_name = handler.rpartition(".")
    fn = getattr(importlib.import_module(module_name), func_name)
    payload = {"result": fn(event, Context())}
except Exception as exc:
    payload = {"error": {
        "errorType": type(exc).__name__,
        "errorMessage": str(exc),
        "stackTrace": traceback.format_exc().splitlines(),
    }}

with open(out_path, "w") as f:
    json.dump(payload, f, default=str)
`

const nodeShim = `const fs = require("fs");
const path = require("path");
const { pathToFileURL } = require("url");

async function main() {
  const [root, handler, outPath] = process.argv.slice(2);
  process.chdir(root);
  const dot = handler.lastIndexOf(".");
  const modulePath = handler.slice(0, dot);
  const fnName = handler.slice(dot + 1);
  const deadline = Date.now() + Number(process.env.AWS_LAMBDA_FUNCTION_TIMEOUT || "3") * 1000;
  const context = {
    functionName: process.env.AWS_LAMBDA_FUNCTION_NAME || "",
    functionVersion: "$LATEST",
    invokedFunctionArn: process.env.LAMBDA_DEPLOY_FUNCTION_ARN || "",
    memoryLimitInMB: process.env.AWS_LAMBDA_FUNCTION_MEMORY_SIZE || "128",
    awsRequestId: process.env.LAMBDA_DEPLOY_REQUEST_ID || "",
    logGroupName: process.env.AWS_LAMBDA_LOG_GROUP_NAME || "",
    logStreamName: "local",
    getRemainingTimeInMillis: () => Math.max(0, deadline - Date.now()),
  };

  let payload;
  try {
    const event = JSON.parse(fs.readFileSync(0, "utf8"));
    const file = [".js", ".mjs", ".cjs"]
      .map((ext) => path.join(root, modulePath + ext))
      .find((f) => fs.existsSync(f));
    if (!file) throw new Error("cannot find module " + modulePath);
    const mod = await import(pathToFileURL(file).href);
    const fn = mod[fnName] || (mod.default && mod.default[fnName]);
    if (typeof fn !== "function") throw new Error(handler + " is not a function");
    const result = await new Promise((resolve, reject) => {
      const ret = fn(event, context, (err, value) => (err ? reject(err) : resolve(value)));
      if (ret && typeof ret.then === "function") ret.then(resolve, reject);
      else if (fn.length < 3) resolve(ret);
    });
    payload = { result: result === undefined ? null : result };
  } catch (err) {
    payload = {
      error: {
        errorType: (err && err.name) || "Error",
        errorMessage: String((err && err.message) || err),
        stackTrace: String((err && err.stack) || "").split("\n"),
      },
    };
  }
  fs.writeFileSync(outPath, JSON.stringify(payload));
}

main();
`

// runShim writes the shim next to the package and runs it with interpreter.
func runShim(ctx context.Context, interpreter, name, source, dir, handler string, event []byte, env []string) (*Result, error) {
	bin, err := exec.LookPath(interpreter)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found in PATH", ErrUnsupportedRuntime, interpreter)
	}
	work, err := os.MkdirTemp("", "lambda-deploy-shim-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(work)

	shim := filepath.Join(work, name)
	if err := os.WriteFile(shim, []byte(source), 0o600); err != nil {
		return nil, fmt.Errorf("write shim: %w", err)
	}
	out := filepath.Join(work, "result.json")

	var logs bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, shim, dir, handler, out)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = bytes.NewReader(event)
	cmd.Stdout = &logs
	cmd.Stderr = &logs
	if err := cmd.Run(); err != nil {
		return &Result{Logs: logs.String()}, fmt.Errorf("run %s: %w\n%s", interpreter, err, logs.String())
	}

	raw, err := os.ReadFile(out)
	if err != nil {
		return &Result{Logs: logs.String()}, fmt.Errorf("handler produced no result: %w", err)
	}
	return decodeShimOutput(raw, &logs)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
