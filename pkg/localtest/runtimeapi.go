package localtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const runtimeAPIVersion = "/2018-06-01"

// runtimeAPI serves a single invocation over the Lambda Runtime API, the
// interface custom runtimes (bootstrap) poll for events.
type runtimeAPI struct {
	inv      Invocation
	deadline time.Time

	mu        sync.Mutex
	delivered bool
	output    []byte
	failure   *FunctionError
	done      chan struct{}
	finish    sync.Once
}

func newRuntimeAPI(inv Invocation, deadline time.Time) *runtimeAPI {
	return &runtimeAPI{inv: inv, deadline: deadline, done: make(chan struct{})}
}

func (a *runtimeAPI) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+runtimeAPIVersion+"/runtime/invocation/next", a.next)
	mux.HandleFunc("POST "+runtimeAPIVersion+"/runtime/invocation/{id}/response", a.response)
	mux.HandleFunc("POST "+runtimeAPIVersion+"/runtime/invocation/{id}/error", a.invocationError)
	mux.HandleFunc("POST "+runtimeAPIVersion+"/runtime/init/error", a.initError)
	return mux
}

func (a *runtimeAPI) next(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	delivered := a.delivered
	a.delivered = true
	a.mu.Unlock()

	// The runtime asks for the next event right after answering; there is none.
	if delivered {
		select {
		case <-a.done:
		case <-r.Context().Done():
		}
		http.Error(w, "no more invocations", http.StatusGone)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Lambda-Runtime-Aws-Request-Id", a.inv.RequestID)
	h.Set("Lambda-Runtime-Deadline-Ms", strconv.FormatInt(a.deadline.UnixMilli(), 10))
	h.Set("Lambda-Runtime-Invoked-Function-Arn", a.inv.FunctionARN)
	h.Set("Lambda-Runtime-Trace-Id", "Root=1-00000000-000000000000000000000000;Sampled=0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.inv.Event)
}

func (a *runtimeAPI) response(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("id") != a.inv.RequestID {
		http.Error(w, "unknown request id", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.complete(body, nil)
	w.WriteHeader(http.StatusAccepted)
}

func (a *runtimeAPI) invocationError(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("id") != a.inv.RequestID {
		http.Error(w, "unknown request id", http.StatusBadRequest)
		return
	}
	a.complete(nil, readFunctionError(r, "Runtime.UnknownError"))
	w.WriteHeader(http.StatusAccepted)
}

func (a *runtimeAPI) initError(w http.ResponseWriter, r *http.Request) {
	a.complete(nil, readFunctionError(r, "Runtime.InitError"))
	w.WriteHeader(http.StatusAccepted)
}

func (a *runtimeAPI) complete(output []byte, failure *FunctionError) {
	a.finish.Do(func() {
		a.mu.Lock()
		a.output = output
		a.failure = failure
		a.mu.Unlock()
		close(a.done)
	})
}

func (a *runtimeAPI) result() *Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &Result{Output: a.output, Error: a.failure}
}

func readFunctionError(r *http.Request, fallback string) *FunctionError {
	fe := &FunctionError{}
	body, _ := io.ReadAll(r.Body)
	if err := json.Unmarshal(body, fe); err != nil || (fe.ErrorType == "" && fe.ErrorMessage == "") {
		fe = &FunctionError{ErrorMessage: string(body)}
	}
	if fe.ErrorType == "" {
		fe.ErrorType = r.Header.Get("Lambda-Runtime-Function-Error-Type")
	}
	if fe.ErrorType == "" {
		fe.ErrorType = fallback
	}
	return fe
}

// runBootstrap starts the custom runtime against an in-process Runtime API and
// waits for its single answer.
func runBootstrap(ctx context.Context, bootstrap, dir string, inv Invocation, env []string) (*Result, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(time.Minute)
	}
	api := newRuntimeAPI(inv, deadline)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("start runtime api: %w", err)
	}
	server := &http.Server{Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() { _ = server.Serve(listener) }()
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdown)
	}()

	var logs bytes.Buffer
	cmd := exec.CommandContext(ctx, bootstrap)
	cmd.Dir = dir
	cmd.Env = append(env, "AWS_LAMBDA_RUNTIME_API="+listener.Addr().String())
	cmd.Stdout = &logs
	cmd.Stderr = &logs
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start bootstrap: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case <-api.done:
		_ = cmd.Process.Kill()
		<-exited
	case err := <-exited:
		// A runtime that exits must have answered before.
		select {
		case <-api.done:
		default:
			if err == nil {
				err = errors.New("exited without answering")
			}
			return &Result{Logs: logs.String()}, fmt.Errorf("bootstrap: %w\n%s", err, logs.String())
		}
	case <-ctx.Done():
		<-exited
		return &Result{Logs: logs.String()}, ctx.Err()
	}

	result := api.result()
	result.Logs = logs.String()
	return result, nil
}
