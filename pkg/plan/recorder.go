// Package plan records the mutating AWS calls of a run. In dry-run mode the
// calls are only recorded; otherwise they are recorded and executed.
package plan

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/notdodo/goflat/v2"
	"github.com/ohler55/ojg/oj"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/awserr"
	"github.com/primait/lambda-deploy/pkg/io/logging"
)

const redacted = "********"

// Call is one mutating API operation.
type Call struct {
	Step      string                 `json:"step" yaml:"step"`
	Service   string                 `json:"service" yaml:"service"`
	Operation string                 `json:"operation" yaml:"operation"`
	Target    string                 `json:"target" yaml:"target"`
	Params    map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	Applied   bool                   `json:"applied" yaml:"applied"`
	Error     string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Duration  time.Duration          `json:"duration" yaml:"duration"`
}

type Recorder struct {
	dryRun bool
	logger logging.LogManager

	mu      sync.Mutex
	step    string
	calls   []Call
	offline sync.Once
}

func NewRecorder(dryRun bool, logger logging.LogManager) *Recorder {
	return &Recorder{dryRun: dryRun, logger: logger}
}

func (r *Recorder) DryRun() bool {
	return r.dryRun
}

// SetStep labels the calls recorded from now on.
func (r *Recorder) SetStep(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.step = step
}

// Do records the mutation and runs fn unless the recorder is in dry-run mode.
// params is flattened for display; pass a value without secrets or large payloads,
// or list sensitive flattened keys in redact (compared case-insensitively).
func (r *Recorder) Do(service, operation, target string, params interface{}, fn func() error, redact ...string) error {
	call := Call{
		Service:   service,
		Operation: operation,
		Target:    target,
		Params:    Flatten(params, redact...),
	}

	r.mu.Lock()
	call.Step = r.step
	r.mu.Unlock()

	if r.dryRun {
		r.logger.Info(PreviewString(true)+operation, "service", service, "target", target)
		r.append(call)
		return nil
	}

	start := time.Now()
	err := fn()
	call.Duration = time.Since(start)
	call.Applied = err == nil
	if err != nil {
		call.Error = err.Error()
	}
	r.append(call)
	if err != nil {
		return err
	}
	r.logger.Debug(operation, "service", service, "target", target, "duration", call.Duration)
	return nil
}

// Absent reports whether a failed read means the resource does not exist. In dry-run
// a read that never reached AWS counts as absent too, so the plan can still be
// printed without credentials.
func (r *Recorder) Absent(err error) bool {
	if awserr.IsNotFound(err) {
		return true
	}
	if !r.dryRun || !awserr.IsUnreachable(err) {
		return false
	}
	r.offline.Do(func() {
		r.logger.Warn("AWS is unreachable, planning as if no resource exists", "err", err)
	})
	return true
}

func (r *Recorder) append(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls returns a copy of the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Applied counts the calls that were executed successfully.
func (r *Recorder) Applied() int {
	n := 0
	for _, c := range r.Calls() {
		if c.Applied {
			n++
		}
	}
	return n
}

func PreviewString(preview bool) string {
	if !preview {
		return ""
	}
	return "preview: "
}

// Flatten turns params into a single level map with "_" separated keys. Empty
// and nil values are dropped.
func Flatten(params interface{}, redact ...string) map[string]interface{} {
	if params == nil {
		return nil
	}
	jsonString, err := oj.Marshal(params)
	if err != nil {
		return map[string]interface{}{"value": fmt.Sprint(params)}
	}
	flat, err := goflat.FlatJSON(string(jsonString), goflat.FlattenerConfig{
		Prefix:    "",
		Separator: "_",
		OmitNil:   true,
		OmitEmpty: true,
	})
	if err != nil {
		return map[string]interface{}{"value": string(jsonString)}
	}
	out := make(map[string]interface{})
	if err := oj.Unmarshal([]byte(flat), &out); err != nil {
		return map[string]interface{}{"value": flat}
	}
	for key := range out {
		for _, r := range redact {
			if strings.EqualFold(key, r) {
				out[key] = redacted
			}
		}
	}
	return out
}

// SortedKeys returns the keys of a flattened parameter map in order.
func SortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
