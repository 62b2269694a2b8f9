package deployer

import (
	"time"

	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/costexplorer"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/iam"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/lambda"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/scheduler"
	"github.com/primait/lambda-deploy/pkg/localtest"
	"github.com/primait/lambda-deploy/pkg/packager"
	"github.com/primait/lambda-deploy/pkg/plan"
)

const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

type StepResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type RoleSummary struct {
	Name    string `json:"name"`
	ARN     string `json:"arn"`
	Created bool   `json:"created"`
	Changed bool   `json:"changed"`
}

type BudgetSummary struct {
	Name        string  `json:"name"`
	Limit       float64 `json:"limit"`
	MonthToDate float64 `json:"monthToDate"`
	Created     bool    `json:"created"`
	Updated     bool    `json:"updated"`
	KillSwitch  bool    `json:"killSwitch"`
}

type SmokeTest struct {
	StatusCode int32         `json:"statusCode"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration"`
}

// Summary is the outcome of a deployment run.
type Summary struct {
	FunctionName string                     `json:"functionName"`
	DryRun       bool                       `json:"dryRun"`
	Resources    config.Resources           `json:"resources"`
	Steps        []StepResult               `json:"steps"`
	Package      *packager.Package          `json:"package,omitempty"`
	LocalTest    *localtest.Result          `json:"localTest,omitempty"`
	Roles        []RoleSummary              `json:"roles,omitempty"`
	Function     *lambda.DeployResult       `json:"function,omitempty"`
	Schedule     *scheduler.ScheduleResult  `json:"schedule,omitempty"`
	Budget       *BudgetSummary             `json:"budget,omitempty"`
	Costs        []costexplorer.ServiceCost `json:"costs,omitempty"`
	SmokeTest    *SmokeTest                 `json:"smokeTest,omitempty"`
	Calls        []plan.Call                `json:"calls,omitempty"`
	Duration     time.Duration              `json:"duration"`
}

func (s *Summary) add(name, status string, d time.Duration, err error) {
	r := StepResult{Name: name, Status: status, Duration: d}
	if err != nil {
		r.Error = err.Error()
	}
	s.Steps = append(s.Steps, r)
}

func (s *Summary) addRole(name, arn string, r iam.RoleResult) {
	s.Roles = append(s.Roles, RoleSummary{Name: name, ARN: arn, Created: r.Created, Changed: r.Changed})
}

// Step returns the result of the named step, nil when it is not part of the run.
func (s *Summary) Step(name string) *StepResult {
	for i := range s.Steps {
		if s.Steps[i].Name == name {
			return &s.Steps[i]
		}
	}
	return nil
}

// Mutations counts the recorded calls that change AWS resources.
func (s *Summary) Mutations() int {
	return len(s.Calls)
}
