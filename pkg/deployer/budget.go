package deployer

import (
	"context"
	"fmt"

	"github.com/primait/lambda-deploy/pkg/connector/services/aws/budgets"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/iam"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/sns"
)

func (d *Deployer) setupBudget(ctx context.Context) error {
	r := d.resources
	topicCreated, err := d.cloud.SNS.EnsureTopic(ctx, sns.TopicSpec{
		Name:   r.TopicName,
		ARN:    r.TopicARN,
		Policy: sns.BudgetsPublishPolicy(r.AccountID, r.TopicARN),
		Tags:   d.spec.Tags,
	})
	if err != nil {
		return err
	}
	subscribed, err := d.cloud.SNS.EnsureEmailSubscription(ctx, r.TopicARN, d.spec.BudgetEmail, topicCreated)
	if err != nil {
		return err
	}
	if subscribed {
		d.logger.PrintYellow(fmt.Sprintf("Confirm the subscription email sent to %s to receive budget alerts", d.spec.BudgetEmail))
	}

	result, err := d.cloud.Budgets.EnsureBudget(ctx, budgets.BudgetSpec{
		AccountID: r.AccountID,
		Name:      d.spec.BudgetName,
		Amount:    d.spec.BudgetAmount(),
		TopicARN:  r.TopicARN,
	})
	if err != nil {
		return err
	}
	d.budgetCreated = result.Created
	d.summary.Budget = &BudgetSummary{Name: d.spec.BudgetName, Limit: d.spec.BudgetLimit, Created: result.Created, Updated: result.Updated}
	d.reportSpend(ctx)
	return nil
}

// reportSpend warns when the month-to-date cost is already above the budget. Cost
// Explorer is optional: errors are only logged.
func (d *Deployer) reportSpend(ctx context.Context) {
	costs, err := d.cloud.CostExplorer.MonthToDate(ctx, budgets.FilteredServices)
	if err != nil {
		d.logger.Warn("Cannot read month-to-date spend", "err", err)
		return
	}
	total := 0.0
	for _, c := range costs {
		total += c.Amount
	}
	d.summary.Costs = costs
	d.summary.Budget.MonthToDate = total
	if total >= d.spec.BudgetLimit {
		d.logger.Warn("Month-to-date spend is already over the budget, the kill switch will fire", "spend", fmt.Sprintf("%.2f", total), "limit", d.spec.BudgetAmount())
		return
	}
	d.logger.Info("Month-to-date spend", "spend", fmt.Sprintf("%.2f", total), "limit", d.spec.BudgetAmount())
}

// guardedRoles are the roles the kill-switch policy is applied to.
func (d *Deployer) guardedRoles() (names, arns []string) {
	r := d.resources
	names = []string{r.RoleName}
	arns = []string{d.roleARN}
	if d.scheduleEnabled() {
		names = append(names, r.SchedulerRoleName)
		arns = append(arns, r.SchedulerRoleARN)
	}
	return names, arns
}

// setupKillSwitch creates the deny policy, the role AWS Budgets assumes to apply
// it, and the budget action binding both to the budget.
func (d *Deployer) setupKillSwitch(ctx context.Context) error {
	r := d.resources
	if _, err := d.cloud.IAM.EnsureManagedPolicy(ctx, iam.ManagedPolicySpec{
		Name:        r.KillSwitchPolicyName,
		ARN:         r.KillSwitchPolicyARN,
		Description: "Denies invoking " + d.spec.FunctionName + " once its budget is exceeded",
		Document:    iam.KillSwitchPolicy(r.FunctionARN),
		Tags:        d.spec.Tags,
	}); err != nil {
		return err
	}

	names, arns := d.guardedRoles()
	if _, err := d.cloud.IAM.EnsureRole(ctx, iam.RoleSpec{
		Name:        r.BudgetActionRoleName,
		Description: "Lets AWS Budgets apply the kill switch of " + d.spec.FunctionName,
		Trust:       iam.BudgetsTrustPolicy(),
		InlinePolicies: map[string]iam.PolicyDocument{
			d.spec.FunctionName + "-budget-action": iam.BudgetActionPolicy(r.KillSwitchPolicyARN, arns),
		},
		Tags: d.spec.Tags,
	}); err != nil {
		return err
	}

	changed, err := d.cloud.Budgets.EnsureAction(ctx, budgets.ActionSpec{
		AccountID:        r.AccountID,
		BudgetName:       d.spec.BudgetName,
		PolicyARN:        r.KillSwitchPolicyARN,
		Roles:            names,
		ExecutionRoleARN: r.BudgetActionRoleARN,
		TopicARN:         r.TopicARN,
	}, d.budgetCreated)
	if err != nil {
		return err
	}
	if d.summary.Budget != nil {
		d.summary.Budget.KillSwitch = true
	}
	if changed {
		d.logger.Info("Kill switch armed", "budget", d.spec.BudgetName, "roles", names)
	}
	return nil
}
