package deployer

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/budgets"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/costexplorer"
	"github.com/sourcegraph/conc/pool"
)

const statusConcurrency = 4

type FunctionStatus struct {
	Name         string `json:"name"`
	Deployed     bool   `json:"deployed"`
	ARN          string `json:"arn,omitempty"`
	Runtime      string `json:"runtime,omitempty"`
	State        string `json:"state,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
	CodeSHA256   string `json:"codeSha256,omitempty"`
	CodeSize     int64  `json:"codeSize,omitempty"`
	Variables    int    `json:"variables"`
	Reserved     *int32 `json:"reservedConcurrency,omitempty"`
	Throttled    bool   `json:"throttled"`
}

type ScheduleStatus struct {
	Name       string `json:"name"`
	Exists     bool   `json:"exists"`
	State      string `json:"state,omitempty"`
	Expression string `json:"expression,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

type BudgetStatus struct {
	Name         string  `json:"name"`
	Exists       bool    `json:"exists"`
	Limit        float64 `json:"limit"`
	Actual       float64 `json:"actual"`
	ActionStatus string  `json:"actionStatus,omitempty"`
}

// Fired reports whether the kill switch has been applied and not reversed since.
func (b *BudgetStatus) Fired() bool {
	return b != nil && (b.ActionStatus == "EXECUTION_SUCCESS" || b.ActionStatus == "EXECUTION_IN_PROGRESS")
}

type LogGroupStatus struct {
	Name          string `json:"name"`
	Exists        bool   `json:"exists"`
	RetentionDays int32  `json:"retentionDays,omitempty"`
	StoredBytes   int64  `json:"storedBytes,omitempty"`
}

// Status is a read-only view of every resource of the function.
type Status struct {
	Function *FunctionStatus            `json:"function"`
	Schedule *ScheduleStatus            `json:"schedule,omitempty"`
	Budget   *BudgetStatus              `json:"budget,omitempty"`
	Costs    []costexplorer.ServiceCost `json:"costs,omitempty"`
	LogGroup *LogGroupStatus            `json:"logGroup"`
	// Warnings lists the lookups that failed without failing the whole status.
	Warnings []string `json:"warnings,omitempty"`
}

// Status looks up the function, its schedule, budget, costs and log group
// concurrently. Budget and cost lookups only add warnings when they fail.
func (d *Deployer) Status(ctx context.Context) (*Status, error) {
	if err := d.connect(ctx, "status"); err != nil {
		return nil, err
	}
	r := d.resources
	status := &Status{}
	var costErr, budgetErr error

	p := pool.New().WithContext(ctx).WithMaxGoroutines(statusConcurrency)
	p.Go(func(ctx context.Context) error {
		fs, err := d.functionStatus(ctx)
		status.Function = fs
		return err
	})
	if d.spec.ScheduleEnabled() {
		p.Go(func(ctx context.Context) error {
			current, err := d.cloud.Scheduler.GetSchedule(ctx, d.spec.ScheduleName, r.ScheduleGroup)
			if err != nil {
				return err
			}
			ss := &ScheduleStatus{Name: d.spec.ScheduleName}
			if current != nil {
				ss.Exists = true
				ss.State = string(current.State)
				ss.Expression = aws.ToString(current.ScheduleExpression)
				ss.Timezone = aws.ToString(current.ScheduleExpressionTimezone)
			}
			status.Schedule = ss
			return nil
		})
	}
	if d.spec.BudgetEnabled {
		p.Go(func(ctx context.Context) error {
			status.Budget, budgetErr = d.budgetStatus(ctx)
			return nil
		})
		p.Go(func(ctx context.Context) error {
			status.Costs, costErr = d.cloud.CostExplorer.MonthToDate(ctx, budgets.FilteredServices)
			return nil
		})
	}
	p.Go(func(ctx context.Context) error {
		group, err := d.cloud.Logs.GetLogGroup(ctx, r.LogGroupName)
		if err != nil {
			return err
		}
		ls := &LogGroupStatus{Name: r.LogGroupName}
		if group != nil {
			ls.Exists = true
			ls.RetentionDays = aws.ToInt32(group.RetentionInDays)
			ls.StoredBytes = aws.ToInt64(group.StoredBytes)
		}
		status.LogGroup = ls
		return nil
	})
	if err := p.Wait(); err != nil {
		return status, err
	}

	if budgetErr != nil {
		status.Warnings = append(status.Warnings, "budget: "+budgetErr.Error())
	}
	if costErr != nil {
		status.Warnings = append(status.Warnings, "costs: "+costErr.Error())
	}
	return status, nil
}

func (d *Deployer) functionStatus(ctx context.Context) (*FunctionStatus, error) {
	current, err := d.cloud.Lambda.GetFunction(ctx, d.spec.FunctionName)
	if err != nil {
		return nil, err
	}
	fs := &FunctionStatus{Name: d.spec.FunctionName}
	if current == nil || current.Configuration == nil {
		return fs, nil
	}
	cfg := current.Configuration
	fs.Deployed = true
	fs.ARN = aws.ToString(cfg.FunctionArn)
	fs.Runtime = string(cfg.Runtime)
	fs.State = string(cfg.State)
	fs.CodeSHA256 = aws.ToString(cfg.CodeSha256)
	fs.CodeSize = cfg.CodeSize
	if t, err := time.Parse("2006-01-02T15:04:05.000-0700", aws.ToString(cfg.LastModified)); err == nil {
		fs.LastModified = t.UTC().Format(time.RFC3339)
	} else {
		fs.LastModified = aws.ToString(cfg.LastModified)
	}
	if cfg.Environment != nil {
		fs.Variables = len(cfg.Environment.Variables)
	}
	if current.Concurrency != nil {
		fs.Reserved = current.Concurrency.ReservedConcurrentExecutions
		fs.Throttled = fs.Reserved != nil && *fs.Reserved == 0
	}
	return fs, nil
}

func (d *Deployer) budgetStatus(ctx context.Context) (*BudgetStatus, error) {
	r := d.resources
	bs := &BudgetStatus{Name: d.spec.BudgetName, Limit: d.spec.BudgetLimit}
	current, err := d.cloud.Budgets.GetBudget(ctx, r.AccountID, d.spec.BudgetName)
	if err != nil || current == nil {
		return bs, err
	}
	bs.Exists = true
	actual, limit := budgets.Spend(current)
	if v, err := strconv.ParseFloat(actual, 64); err == nil {
		bs.Actual = v
	}
	if v, err := strconv.ParseFloat(limit, 64); err == nil {
		bs.Limit = v
	}
	action, err := d.cloud.Budgets.FindAction(ctx, r.AccountID, d.spec.BudgetName, r.KillSwitchPolicyARN)
	if err != nil {
		return bs, err
	}
	if action != nil {
		bs.ActionStatus = string(action.Status)
	}
	return bs, nil
}
