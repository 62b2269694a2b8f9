package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/primait/lambda-deploy/tools/filesystem/files"
	"github.com/spf13/viper"
)

const (
	KeyFunctionName       = "function_name"
	KeyHandler            = "handler"
	KeySourceFiles        = "source_files"
	KeySourceDir          = "source_dir"
	KeyExclude            = "exclude"
	KeyOutputDir          = "output_dir"
	KeyPackageName        = "package_name"
	KeyRegion             = "region"
	KeyProfile            = "profile"
	KeyEndpointURL        = "endpoint_url"
	KeyRuntime            = "runtime"
	KeyArchitecture       = "architecture"
	KeyTimeout            = "timeout"
	KeyMemorySize         = "memory_size"
	KeyRoleName           = "role_name"
	KeyScheduleName       = "schedule_name"
	KeyScheduleExpression = "schedule_expression"
	KeyScheduleTimezone   = "schedule_timezone"
	KeyBudgetEnabled      = "budget_enabled"
	KeyBudgetName         = "budget_name"
	KeyBudgetLimit        = "budget_limit"
	KeyBudgetEmail        = "budget_email"
	KeyEnvPrefixes        = "env_prefixes"
	KeyRequiredEnv        = "required_env"
	KeySecureParameters   = "secure_parameters"
	KeyCodeBucket         = "code_bucket"
	KeyLogRetentionDays   = "log_retention_days"
	KeyTags               = "tags"
	KeyLocalEndpoint      = "local_endpoint"
	KeyLocalAssert        = "local_assert"
	KeyMaxAttempts        = "max_attempts"
)

// ScheduleDisabled turns the schedule step off when used as the expression.
const ScheduleDisabled = "none"

type setting struct {
	key string
	env string
	def interface{}
}

var settings = []setting{
	{KeyFunctionName, "LAMBDA_FUNCTION_NAME", "lambda-function"},
	{KeyHandler, "LAMBDA_HANDLER", "lambda_function.lambda_handler"},
	{KeySourceFiles, "LAMBDA_SOURCE_FILES", ""},
	{KeySourceDir, "LAMBDA_SOURCE_DIR", "."},
	{KeyExclude, "LAMBDA_EXCLUDE", ""},
	{KeyOutputDir, "LAMBDA_OUTPUT_DIR", "dist"},
	{KeyPackageName, "LAMBDA_PACKAGE_NAME", "lambda-package.zip"},
	{KeyRegion, "AWS_REGION", "us-east-1"},
	{KeyProfile, "AWS_PROFILE", ""},
	{KeyEndpointURL, "AWS_ENDPOINT_URL", ""},
	{KeyRuntime, "LAMBDA_RUNTIME", "python3.12"},
	{KeyArchitecture, "LAMBDA_ARCHITECTURE", "x86_64"},
	{KeyTimeout, "LAMBDA_TIMEOUT", 300},
	{KeyMemorySize, "LAMBDA_MEMORY_SIZE", 512},
	{KeyRoleName, "LAMBDA_ROLE_NAME", ""},
	{KeyScheduleName, "LAMBDA_SCHEDULE_NAME", ""},
	{KeyScheduleExpression, "LAMBDA_SCHEDULE_EXPRESSION", "rate(5 minutes)"},
	{KeyScheduleTimezone, "LAMBDA_SCHEDULE_TIMEZONE", ""},
	{KeyBudgetEnabled, "LAMBDA_BUDGET_ENABLED", true},
	{KeyBudgetName, "LAMBDA_BUDGET_NAME", ""},
	{KeyBudgetLimit, "LAMBDA_BUDGET_LIMIT", 1.0},
	{KeyBudgetEmail, "LAMBDA_BUDGET_EMAIL", ""},
	{KeyEnvPrefixes, "LAMBDA_ENV_PREFIXES", ""},
	{KeyRequiredEnv, "LAMBDA_REQUIRED_ENV", ""},
	{KeySecureParameters, "LAMBDA_SECURE_PARAMETERS", ""},
	{KeyCodeBucket, "LAMBDA_CODE_BUCKET", ""},
	{KeyLogRetentionDays, "LAMBDA_LOG_RETENTION_DAYS", 14},
	{KeyTags, "LAMBDA_TAGS", ""},
	{KeyLocalEndpoint, "LAMBDA_LOCAL_ENDPOINT", ""},
	{KeyLocalAssert, "LAMBDA_LOCAL_ASSERT", ".statusCode == 200"},
	{KeyMaxAttempts, "AWS_MAX_ATTEMPTS", 10},
}

// SecureParameter maps a process environment variable to an SSM SecureString path.
type SecureParameter struct {
	EnvName string `json:"envName" yaml:"envName"`
	Path    string `json:"path" yaml:"path"`
}

// EnvKey is the Lambda environment variable carrying the parameter path.
func (p SecureParameter) EnvKey() string {
	return p.EnvName + "_PARAMETER"
}

// DeploymentSpec is the validated configuration of a single run.
type DeploymentSpec struct {
	FunctionName       string            `json:"functionName" yaml:"functionName"`
	Handler            string            `json:"handler" yaml:"handler"`
	SourceFiles        []string          `json:"sourceFiles,omitempty" yaml:"sourceFiles,omitempty"`
	SourceDir          string            `json:"sourceDir" yaml:"sourceDir"`
	Exclude            []string          `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	OutputDir          string            `json:"outputDir" yaml:"outputDir"`
	PackageName        string            `json:"packageName" yaml:"packageName"`
	Region             string            `json:"region" yaml:"region"`
	Profile            string            `json:"profile,omitempty" yaml:"profile,omitempty"`
	EndpointURL        string            `json:"endpointUrl,omitempty" yaml:"endpointUrl,omitempty"`
	Runtime            string            `json:"runtime" yaml:"runtime"`
	Architecture       string            `json:"architecture" yaml:"architecture"`
	Timeout            int32             `json:"timeout" yaml:"timeout"`
	MemorySize         int32             `json:"memorySize" yaml:"memorySize"`
	RoleName           string            `json:"roleName" yaml:"roleName"`
	ScheduleName       string            `json:"scheduleName" yaml:"scheduleName"`
	ScheduleExpression string            `json:"scheduleExpression" yaml:"scheduleExpression"`
	ScheduleTimezone   string            `json:"scheduleTimezone,omitempty" yaml:"scheduleTimezone,omitempty"`
	BudgetEnabled      bool              `json:"budgetEnabled" yaml:"budgetEnabled"`
	BudgetName         string            `json:"budgetName" yaml:"budgetName"`
	BudgetLimit        float64           `json:"budgetLimit" yaml:"budgetLimit"`
	BudgetEmail        string            `json:"budgetEmail,omitempty" yaml:"budgetEmail,omitempty"`
	EnvPrefixes        []string          `json:"envPrefixes,omitempty" yaml:"envPrefixes,omitempty"`
	RequiredEnv        []string          `json:"requiredEnv,omitempty" yaml:"requiredEnv,omitempty"`
	SecureParameters   []SecureParameter `json:"secureParameters,omitempty" yaml:"secureParameters,omitempty"`
	CodeBucket         string            `json:"codeBucket,omitempty" yaml:"codeBucket,omitempty"`
	LogRetentionDays   int32             `json:"logRetentionDays" yaml:"logRetentionDays"`
	Tags               map[string]string `json:"tags" yaml:"tags"`
	LocalEndpoint      string            `json:"localEndpoint,omitempty" yaml:"localEndpoint,omitempty"`
	LocalAssert        string            `json:"localAssert" yaml:"localAssert"`
	MaxAttempts        int               `json:"maxAttempts" yaml:"maxAttempts"`
}

// Bind registers defaults and environment variable names on v.
func Bind(v *viper.Viper) error {
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return fmt.Errorf("bind %s: %w", s.env, err)
		}
	}
	return nil
}

// EnvName returns the environment variable bound to a configuration key.
func EnvName(key string) string {
	for _, s := range settings {
		if s.key == key {
			return s.env
		}
	}
	return ""
}

// Load decodes and validates a DeploymentSpec from v. Bind must have been called on v.
func Load(v *viper.Viper) (*DeploymentSpec, error) {
	secure, err := parseSecureParameters(stringList(v, KeySecureParameters))
	if err != nil {
		return nil, err
	}
	tags, err := parseTags(stringList(v, KeyTags))
	if err != nil {
		return nil, err
	}

	s := &DeploymentSpec{
		FunctionName:       strings.TrimSpace(v.GetString(KeyFunctionName)),
		Handler:            strings.TrimSpace(v.GetString(KeyHandler)),
		SourceFiles:        stringList(v, KeySourceFiles),
		SourceDir:          files.NormalizePath(v.GetString(KeySourceDir)),
		Exclude:            stringList(v, KeyExclude),
		OutputDir:          v.GetString(KeyOutputDir),
		PackageName:        v.GetString(KeyPackageName),
		Region:             strings.TrimSpace(v.GetString(KeyRegion)),
		Profile:            v.GetString(KeyProfile),
		EndpointURL:        v.GetString(KeyEndpointURL),
		Runtime:            strings.TrimSpace(v.GetString(KeyRuntime)),
		Architecture:       strings.TrimSpace(v.GetString(KeyArchitecture)),
		Timeout:            v.GetInt32(KeyTimeout),
		MemorySize:         v.GetInt32(KeyMemorySize),
		RoleName:           v.GetString(KeyRoleName),
		ScheduleName:       v.GetString(KeyScheduleName),
		ScheduleExpression: strings.TrimSpace(v.GetString(KeyScheduleExpression)),
		ScheduleTimezone:   strings.TrimSpace(v.GetString(KeyScheduleTimezone)),
		BudgetEnabled:      v.GetBool(KeyBudgetEnabled),
		BudgetName:         v.GetString(KeyBudgetName),
		BudgetLimit:        v.GetFloat64(KeyBudgetLimit),
		BudgetEmail:        strings.TrimSpace(v.GetString(KeyBudgetEmail)),
		EnvPrefixes:        stringList(v, KeyEnvPrefixes),
		RequiredEnv:        stringList(v, KeyRequiredEnv),
		SecureParameters:   secure,
		CodeBucket:         v.GetString(KeyCodeBucket),
		LogRetentionDays:   v.GetInt32(KeyLogRetentionDays),
		Tags:               tags,
		LocalEndpoint:      v.GetString(KeyLocalEndpoint),
		LocalAssert:        v.GetString(KeyLocalAssert),
		MaxAttempts:        v.GetInt(KeyMaxAttempts),
	}

	if s.OutputDir == "" {
		s.OutputDir = "dist"
	}
	if !filepath.IsAbs(s.OutputDir) {
		s.OutputDir = filepath.Join(s.SourceDir, s.OutputDir)
	}
	if s.RoleName == "" {
		s.RoleName = s.FunctionName + "-execution-role"
	}
	if s.ScheduleName == "" {
		s.ScheduleName = s.FunctionName + "-schedule"
	}
	if s.BudgetName == "" {
		s.BudgetName = s.FunctionName + "-budget"
	}
	s.Tags["ManagedBy"] = "lambda-deploy"
	s.Tags["Function"] = s.FunctionName

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ScheduleEnabled reports whether a schedule should be created for the function.
func (s *DeploymentSpec) ScheduleEnabled() bool {
	return s.ScheduleExpression != "" && !strings.EqualFold(s.ScheduleExpression, ScheduleDisabled)
}

// PackagePath is the location of the zip archive produced by the packager.
func (s *DeploymentSpec) PackagePath() string {
	return filepath.Join(s.OutputDir, s.PackageName)
}

// SortedTagKeys returns tag keys in a stable order.
func (s *DeploymentSpec) SortedTagKeys() []string {
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stringList reads a list setting that may come from a YAML sequence or a comma separated env var.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	switch value := v.Get(key).(type) {
	case nil:
		return nil
	case []string:
		raw = value
	case []interface{}:
		for _, item := range value {
			raw = append(raw, fmt.Sprint(item))
		}
	case map[string]interface{}:
		for k, item := range value {
			raw = append(raw, k+"="+fmt.Sprint(item))
		}
		sort.Strings(raw)
	default:
		raw = strings.Split(fmt.Sprint(value), ",")
	}

	var out []string
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseTags(items []string) (map[string]string, error) {
	tags := make(map[string]string, len(items)+2)
	for _, item := range items {
		k, val, ok := strings.Cut(item, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: tag %q must be key=value", ErrInvalidConfig, item)
		}
		tags[k] = strings.TrimSpace(val)
	}
	return tags, nil
}

func parseSecureParameters(items []string) ([]SecureParameter, error) {
	params := make([]SecureParameter, 0, len(items))
	for _, item := range items {
		name, path, ok := strings.Cut(item, "=")
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("%w: secure parameter %q must be ENV_NAME=/parameter/path", ErrInvalidConfig, item)
		}
		params = append(params, SecureParameter{EnvName: name, Path: path})
	}
	return params, nil
}

func formatLimit(limit float64) string {
	return strconv.FormatFloat(limit, 'f', 2, 64)
}

// BudgetAmount is the budget limit formatted the way the Budgets API expects it.
func (s *DeploymentSpec) BudgetAmount() string {
	return formatLimit(s.BudgetLimit)
}
