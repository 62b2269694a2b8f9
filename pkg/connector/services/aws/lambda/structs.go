package lambda

import (
	"sort"
)

// Code points at the deployment package, either inline or in S3.
type Code struct {
	ZipFile  []byte `json:"-"`
	S3Bucket string `json:"s3Bucket,omitempty"`
	S3Key    string `json:"s3Key,omitempty"`
	SHA256   string `json:"sha256"`
	Size     int64  `json:"size"`
}

// FunctionSpec is the desired state of a zip packaged function.
type FunctionSpec struct {
	Name         string
	Description  string
	RoleARN      string
	Handler      string
	Runtime      string
	Architecture string
	Timeout      int32
	MemorySize   int32
	Environment  map[string]string
	Tags         map[string]string
	Code         Code
}

// DeployResult tells what EnsureFunction changed.
type DeployResult struct {
	ARN           string `json:"arn"`
	Version       string `json:"version,omitempty"`
	CodeSHA256    string `json:"codeSha256"`
	Created       bool   `json:"created"`
	CodeUpdated   bool   `json:"codeUpdated"`
	ConfigUpdated bool   `json:"configUpdated"`
}

// Changed reports whether any mutation happened.
func (r DeployResult) Changed() bool {
	return r.Created || r.CodeUpdated || r.ConfigUpdated
}

// envRedactions lists the flattened plan keys of environment values.
func envRedactions(prefix string, env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, prefix+"Environment_Variables_"+k)
	}
	sort.Strings(keys)
	return keys
}

func sameEnvironment(current, desired map[string]string) bool {
	if len(current) != len(desired) {
		return false
	}
	for k, v := range desired {
		if cv, ok := current[k]; !ok || cv != v {
			return false
		}
	}
	return true
}
