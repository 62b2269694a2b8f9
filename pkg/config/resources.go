package config

import (
	"fmt"
	"strings"
)

// PlaceholderAccount stands in for the account id when a dry run cannot reach STS.
const PlaceholderAccount = "000000000000"

// Resources holds the names and ARNs derived from a DeploymentSpec once the
// account id is known.
type Resources struct {
	AccountID string `json:"accountId" yaml:"accountId"`
	Partition string `json:"partition" yaml:"partition"`
	Region    string `json:"region" yaml:"region"`
	// Caller is the principal behind the credentials, empty until resolved.
	Caller string `json:"caller,omitempty" yaml:"caller,omitempty"`

	FunctionARN string `json:"functionArn" yaml:"functionArn"`
	RoleName    string `json:"roleName" yaml:"roleName"`
	RoleARN     string `json:"roleArn" yaml:"roleArn"`

	SchedulerRoleName string `json:"schedulerRoleName" yaml:"schedulerRoleName"`
	SchedulerRoleARN  string `json:"schedulerRoleArn" yaml:"schedulerRoleArn"`
	ScheduleGroup     string `json:"scheduleGroup" yaml:"scheduleGroup"`
	ScheduleARN       string `json:"scheduleArn" yaml:"scheduleArn"`

	BudgetActionRoleName string `json:"budgetActionRoleName" yaml:"budgetActionRoleName"`
	BudgetActionRoleARN  string `json:"budgetActionRoleArn" yaml:"budgetActionRoleArn"`
	KillSwitchPolicyName string `json:"killSwitchPolicyName" yaml:"killSwitchPolicyName"`
	KillSwitchPolicyARN  string `json:"killSwitchPolicyArn" yaml:"killSwitchPolicyArn"`
	TopicName            string `json:"topicName" yaml:"topicName"`
	TopicARN             string `json:"topicArn" yaml:"topicArn"`

	LogGroupName string `json:"logGroupName" yaml:"logGroupName"`
}

// Partition returns the AWS partition owning region.
func Partition(region string) string {
	switch {
	case strings.HasPrefix(region, "cn-"):
		return "aws-cn"
	case strings.HasPrefix(region, "us-gov-"):
		return "aws-us-gov"
	default:
		return "aws"
	}
}

// Resources derives every ARN the deployment touches. partition comes from the
// caller ARN; when empty it is guessed from the region.
func (s *DeploymentSpec) Resources(accountID, partition string) (Resources, error) {
	if accountID == "" {
		return Resources{}, ErrAccountUnknown
	}
	p := partition
	if p == "" {
		p = Partition(s.Region)
	}
	r := Resources{
		AccountID:            accountID,
		Partition:            p,
		Region:               s.Region,
		RoleName:             s.RoleName,
		SchedulerRoleName:    s.FunctionName + "-scheduler-role",
		ScheduleGroup:        "default",
		BudgetActionRoleName: s.FunctionName + "-budget-action-role",
		KillSwitchPolicyName: s.FunctionName + "-kill-switch",
		TopicName:            s.FunctionName + "-budget-alerts",
		LogGroupName:         "/aws/lambda/" + s.FunctionName,
	}
	r.FunctionARN = fmt.Sprintf("arn:%s:lambda:%s:%s:function:%s", p, s.Region, accountID, s.FunctionName)
	r.RoleARN = roleARN(p, accountID, r.RoleName)
	r.SchedulerRoleARN = roleARN(p, accountID, r.SchedulerRoleName)
	r.BudgetActionRoleARN = roleARN(p, accountID, r.BudgetActionRoleName)
	r.KillSwitchPolicyARN = fmt.Sprintf("arn:%s:iam::%s:policy/%s", p, accountID, r.KillSwitchPolicyName)
	r.TopicARN = fmt.Sprintf("arn:%s:sns:%s:%s:%s", p, s.Region, accountID, r.TopicName)
	r.ScheduleARN = fmt.Sprintf("arn:%s:scheduler:%s:%s:schedule/%s/%s", p, s.Region, accountID, r.ScheduleGroup, s.ScheduleName)
	return r, nil
}

// ParameterARN returns the SSM ARN of a parameter path.
func (r Resources) ParameterARN(path string) string {
	return fmt.Sprintf("arn:%s:ssm:%s:%s:parameter/%s", r.Partition, r.Region, r.AccountID, strings.TrimPrefix(path, "/"))
}

func roleARN(partition, account, name string) string {
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", partition, account, name)
}
