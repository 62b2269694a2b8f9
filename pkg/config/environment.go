package config

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// EnvSizeLimit is the Lambda limit for the serialized environment.
	EnvSizeLimit = 4000
	// EnvSizeWarning is the raw size above which a warning is emitted.
	EnvSizeWarning = 3500
)

// Keys Lambda reserves for the runtime; they cannot be set on a function.
var reservedEnv = []string{"AWS_", "_HANDLER", "_X_AMZN_TRACE_ID", "LAMBDA_TASK_ROOT", "LAMBDA_RUNTIME_DIR", "TZ"}

// EnvSize describes the footprint of a function environment.
type EnvSize struct {
	Raw       int `json:"raw"`
	Estimated int `json:"estimated"`
	Variables int `json:"variables"`
}

// NearLimit reports whether the raw size is above the warning threshold.
func (e EnvSize) NearLimit() bool {
	return e.Raw > EnvSizeWarning
}

func (e EnvSize) Validate() error {
	if e.Estimated > EnvSizeLimit {
		return fmt.Errorf("%w: estimated %d bytes for %d variables", ErrEnvironmentTooLarge, e.Estimated, e.Variables)
	}
	return nil
}

// EnvironmentSize estimates the serialized size: keys and values plus 10 bytes of
// framing per variable and 100 bytes of envelope.
func EnvironmentSize(env map[string]string) EnvSize {
	raw := 0
	for k, v := range env {
		raw += len(k) + len(v)
	}
	return EnvSize{Raw: raw, Estimated: raw + 10*len(env) + 100, Variables: len(env)}
}

// Environ turns os.Environ style entries into a map. Later entries win.
func Environ(entries []string) map[string]string {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if k, v, ok := strings.Cut(e, "="); ok && k != "" {
			out[k] = v
		}
	}
	return out
}

// LambdaEnvironment computes the variables to set on the function from the process
// environment: required variables, variables matching a configured prefix, and one
// <NAME>_PARAMETER entry per secure parameter. Secret values are never copied.
// Skipped lists the matching keys dropped because Lambda reserves them.
func (s *DeploymentSpec) LambdaEnvironment(environ map[string]string) (env map[string]string, skipped []string, err error) {
	env = make(map[string]string)
	secret := make(map[string]struct{}, len(s.SecureParameters))
	for _, p := range s.SecureParameters {
		secret[p.EnvName] = struct{}{}
	}

	var missing []string
	for _, name := range s.RequiredEnv {
		value, ok := environ[name]
		if !ok || strings.TrimSpace(value) == "" {
			missing = append(missing, name)
			continue
		}
		if isReserved(name) {
			skipped = append(skipped, name)
			continue
		}
		if _, isSecret := secret[name]; !isSecret {
			env[name] = strings.TrimSpace(value)
		}
	}

	for name, value := range environ {
		if !hasAnyPrefix(name, s.EnvPrefixes) {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, isSecret := secret[name]; isSecret {
			continue
		}
		if isReserved(name) {
			skipped = append(skipped, name)
			continue
		}
		env[name] = value
	}

	for _, p := range s.SecureParameters {
		env[p.EnvKey()] = p.Path
	}

	sort.Strings(missing)
	sort.Strings(skipped)
	if len(missing) > 0 {
		return env, skipped, fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return env, skipped, nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func isReserved(name string) bool {
	for _, r := range reservedEnv {
		if (strings.HasSuffix(r, "_") && strings.HasPrefix(name, r)) || name == r {
			return true
		}
	}
	return false
}
