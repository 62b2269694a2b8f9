package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
)

var (
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrAccountUnknown      = errors.New("account id not resolved")
	ErrMissingEnv          = errors.New("required environment variables not set")
	ErrEnvironmentTooLarge = errors.New("lambda environment exceeds 4 KB")
)

var (
	functionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9-_]{1,64}$`)
	rolePattern         = regexp.MustCompile(`^[\w+=,.@-]{1,64}$`)
	schedulePattern     = regexp.MustCompile(`^(rate\(\d+ (minute|minutes|hour|hours|day|days)\)|cron\(.+\)|at\(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\))$`)
	envNamePattern      = regexp.MustCompile(`^[a-zA-Z]\w*$`)
)

// Retention values accepted by CloudWatch Logs PutRetentionPolicy.
var logRetentionDays = map[int32]struct{}{
	1: {}, 3: {}, 5: {}, 7: {}, 14: {}, 30: {}, 60: {}, 90: {}, 120: {}, 150: {}, 180: {}, 365: {}, 400: {},
	545: {}, 731: {}, 1096: {}, 1827: {}, 2192: {}, 2557: {}, 2922: {}, 3288: {}, 3653: {},
}

// Validate checks every field and reports all problems at once.
func (s *DeploymentSpec) Validate() error {
	var errs []error
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...))
	}

	if !functionNamePattern.MatchString(s.FunctionName) {
		fail("function name %q must be 1-64 letters, digits, hyphens or underscores", s.FunctionName)
	}
	if !rolePattern.MatchString(s.RoleName) {
		fail("role name %q is not a valid IAM role name", s.RoleName)
	}
	if s.Runtime == "" {
		fail("runtime is required")
	}
	if s.Handler == "" {
		fail("handler is required")
	} else if needsModuleHandler(s.Runtime) && !strings.Contains(s.Handler, ".") {
		fail("handler %q must be in module.function form for runtime %s", s.Handler, s.Runtime)
	}
	if s.Architecture != "x86_64" && s.Architecture != "arm64" {
		fail("architecture %q must be x86_64 or arm64", s.Architecture)
	}
	if s.Region == "" {
		fail("region is required")
	}
	if s.Timeout < 1 || s.Timeout > 900 {
		fail("timeout %d must be between 1 and 900 seconds", s.Timeout)
	}
	if s.MemorySize < 128 || s.MemorySize > 10240 {
		fail("memory size %d must be between 128 and 10240 MB", s.MemorySize)
	} else if s.MemorySize%64 != 0 {
		fail("memory size %d must be a multiple of 64 MB", s.MemorySize)
	}
	if s.PackageName == "" || !strings.HasSuffix(s.PackageName, ".zip") {
		fail("package name %q must end with .zip", s.PackageName)
	}
	if s.ScheduleEnabled() {
		if !schedulePattern.MatchString(s.ScheduleExpression) {
			fail("schedule expression %q must be rate(...), cron(...) or at(...)", s.ScheduleExpression)
		}
		if s.ScheduleName == "" || len(s.ScheduleName) > 64 {
			fail("schedule name %q must be 1-64 characters", s.ScheduleName)
		}
	}
	if s.ScheduleTimezone != "" {
		if _, err := time.LoadLocation(s.ScheduleTimezone); err != nil {
			fail("schedule timezone %q: %v", s.ScheduleTimezone, err)
		}
	}
	if s.BudgetEnabled {
		if s.BudgetLimit <= 0 {
			fail("budget limit %.2f must be greater than zero", s.BudgetLimit)
		}
		if !strings.Contains(s.BudgetEmail, "@") {
			fail("budget email is required when the budget is enabled (%s)", EnvName(KeyBudgetEmail))
		}
		if s.BudgetName == "" || len(s.BudgetName) > 100 {
			fail("budget name %q must be 1-100 characters", s.BudgetName)
		}
	}
	if _, ok := logRetentionDays[s.LogRetentionDays]; !ok {
		fail("log retention %d days is not accepted by CloudWatch Logs", s.LogRetentionDays)
	}
	for _, p := range s.SecureParameters {
		if !envNamePattern.MatchString(p.EnvName) {
			fail("secure parameter name %q is not a valid environment variable", p.EnvName)
		}
	}
	if s.LocalAssert == "" {
		fail("local assertion expression is required")
	}
	if s.MaxAttempts < 1 {
		fail("max attempts %d must be at least 1", s.MaxAttempts)
	}

	return errors.Join(errs...)
}

// TimezoneApplies reports whether the configured timezone is honoured for the schedule.
// EventBridge Scheduler only evaluates timezones for cron expressions.
func (s *DeploymentSpec) TimezoneApplies() bool {
	return s.ScheduleTimezone != "" && strings.HasPrefix(s.ScheduleExpression, "cron(")
}

func needsModuleHandler(runtime string) bool {
	for _, prefix := range []string{"python", "nodejs", "ruby"} {
		if strings.HasPrefix(runtime, prefix) {
			return true
		}
	}
	return false
}
