package budgets

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/budgets/types"
)

// ActionSpec describes the budget action that applies the kill-switch policy to
// roles once the actual spend crosses the breach threshold.
type ActionSpec struct {
	AccountID        string
	BudgetName       string
	PolicyARN        string
	Roles            []string
	ExecutionRoleARN string
	TopicARN         string
}

// FindAction returns the APPLY_IAM_POLICY action for policyARN, nil when there is none.
func (bc *BudgetsClient) FindAction(ctx context.Context, accountID, budgetName, policyARN string) (*types.Action, error) {
	var next *string
	for {
		output, err := bc.api.DescribeBudgetActionsForBudget(ctx, &budgets.DescribeBudgetActionsForBudgetInput{
			AccountId:  aws.String(accountID),
			BudgetName: aws.String(budgetName),
			NextToken:  next,
		})
		if err != nil {
			if bc.recorder.Absent(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("describe actions of budget %s: %w", budgetName, err)
		}
		for i := range output.Actions {
			a := output.Actions[i]
			if a.ActionType != types.ActionTypeIam || a.Definition == nil || a.Definition.IamActionDefinition == nil {
				continue
			}
			if aws.ToString(a.Definition.IamActionDefinition.PolicyArn) == policyARN {
				return &a, nil
			}
		}
		if output.NextToken == nil {
			return nil, nil
		}
		next = output.NextToken
	}
}

// EnsureAction creates the kill-switch action or updates it when its definition
// changed. An identical action is left alone.
func (bc *BudgetsClient) EnsureAction(ctx context.Context, spec ActionSpec, budgetCreated bool) (bool, error) {
	var current *types.Action
	// A budget created in dry-run cannot be described.
	if !(budgetCreated && bc.recorder.DryRun()) {
		var err error
		if current, err = bc.FindAction(ctx, spec.AccountID, spec.BudgetName, spec.PolicyARN); err != nil {
			return false, err
		}
	}

	if current == nil {
		input := &budgets.CreateBudgetActionInput{
			AccountId:        aws.String(spec.AccountID),
			BudgetName:       aws.String(spec.BudgetName),
			ActionType:       types.ActionTypeIam,
			ActionThreshold:  actionThreshold(),
			ApprovalModel:    types.ApprovalModelAuto,
			Definition:       definition(spec),
			ExecutionRoleArn: aws.String(spec.ExecutionRoleARN),
			NotificationType: types.NotificationTypeActual,
			Subscribers:      subscribers(spec.TopicARN),
		}
		err := bc.recorder.Do("budgets", "CreateBudgetAction", spec.BudgetName, input, func() error {
			_, err := bc.api.CreateBudgetAction(ctx, input)
			return err
		})
		if err != nil {
			return false, fmt.Errorf("create budget action on %s: %w", spec.BudgetName, err)
		}
		bc.logger.Info("Created budget kill switch", "budget", spec.BudgetName, "roles", spec.Roles)
		return true, nil
	}

	if !actionDrifted(current, spec) {
		return false, nil
	}
	input := &budgets.UpdateBudgetActionInput{
		AccountId:        aws.String(spec.AccountID),
		BudgetName:       aws.String(spec.BudgetName),
		ActionId:         current.ActionId,
		ActionThreshold:  actionThreshold(),
		ApprovalModel:    types.ApprovalModelAuto,
		Definition:       definition(spec),
		ExecutionRoleArn: aws.String(spec.ExecutionRoleARN),
		NotificationType: types.NotificationTypeActual,
		Subscribers:      subscribers(spec.TopicARN),
	}
	err := bc.recorder.Do("budgets", "UpdateBudgetAction", spec.BudgetName, input, func() error {
		_, err := bc.api.UpdateBudgetAction(ctx, input)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("update budget action on %s: %w", spec.BudgetName, err)
	}
	return true, nil
}

// ReverseAction undoes an executed kill-switch action. Actions that did not run are
// left alone.
func (bc *BudgetsClient) ReverseAction(ctx context.Context, accountID, budgetName, policyARN string) (bool, error) {
	action, err := bc.FindAction(ctx, accountID, budgetName, policyARN)
	if err != nil || action == nil {
		return false, err
	}
	if action.Status != types.ActionStatusExecutionSuccess {
		return false, nil
	}
	input := &budgets.ExecuteBudgetActionInput{
		AccountId:     aws.String(accountID),
		BudgetName:    aws.String(budgetName),
		ActionId:      action.ActionId,
		ExecutionType: types.ExecutionTypeReverseBudgetAction,
	}
	err = bc.recorder.Do("budgets", "ExecuteBudgetAction", budgetName, input, func() error {
		_, err := bc.api.ExecuteBudgetAction(ctx, input)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("reverse budget action on %s: %w", budgetName, err)
	}
	return true, nil
}

func actionThreshold() *types.ActionThreshold {
	return &types.ActionThreshold{
		ActionThresholdType:  types.ThresholdTypePercentage,
		ActionThresholdValue: BreachThreshold,
	}
}

func definition(spec ActionSpec) *types.Definition {
	roles := append([]string(nil), spec.Roles...)
	sort.Strings(roles)
	return &types.Definition{
		IamActionDefinition: &types.IamActionDefinition{
			PolicyArn: aws.String(spec.PolicyARN),
			Roles:     roles,
		},
	}
}

func subscribers(topicARN string) []types.Subscriber {
	return []types.Subscriber{{
		SubscriptionType: types.SubscriptionTypeSns,
		Address:          aws.String(topicARN),
	}}
}

func actionDrifted(current *types.Action, spec ActionSpec) bool {
	if current.ApprovalModel != types.ApprovalModelAuto ||
		current.NotificationType != types.NotificationTypeActual ||
		aws.ToString(current.ExecutionRoleArn) != spec.ExecutionRoleARN {
		return true
	}
	t := current.ActionThreshold
	if t == nil || t.ActionThresholdType != types.ThresholdTypePercentage || t.ActionThresholdValue != BreachThreshold {
		return true
	}
	roles := append([]string(nil), current.Definition.IamActionDefinition.Roles...)
	want := definition(spec).IamActionDefinition.Roles
	sort.Strings(roles)
	if len(roles) != len(want) {
		return true
	}
	for i := range roles {
		if roles[i] != want[i] {
			return true
		}
	}
	for _, s := range current.Subscribers {
		if aws.ToString(s.Address) == spec.TopicARN {
			return false
		}
	}
	return true
}
