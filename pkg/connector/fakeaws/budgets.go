package fakeaws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/budgets/types"
)

type budget struct {
	budget        types.Budget
	notifications []types.Notification
	actions       []types.Action
}

type Budgets struct {
	log *Log

	mu      sync.Mutex
	budgets map[string]*budget
	nextID  int
}

// Budget returns a copy of a stored budget, nil when missing.
func (f *Budgets) Budget(name string) *types.Budget {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.budgets[name]
	if !ok {
		return nil
	}
	c := b.budget
	return &c
}

// Actions returns the budget actions of a budget.
func (f *Budgets) Actions(name string) []types.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.budgets[name]; ok {
		return append([]types.Action(nil), b.actions...)
	}
	return nil
}

// SetActionStatus simulates AWS Budgets running or resetting an action.
func (f *Budgets) SetActionStatus(name string, status types.ActionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.budgets[name]; ok {
		for i := range b.actions {
			b.actions[i].Status = status
		}
	}
}

func (f *Budgets) lookup(name *string) (*budget, error) {
	b, ok := f.budgets[aws.ToString(name)]
	if !ok {
		return nil, APIError("NotFoundException", "Unable to get budget: %s - the budget doesn't exist.", aws.ToString(name))
	}
	return b, nil
}

func (f *Budgets) DescribeBudget(_ context.Context, in *budgets.DescribeBudgetInput, _ ...func(*budgets.Options)) (*budgets.DescribeBudgetOutput, error) {
	if err := f.log.read("DescribeBudget"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(in.BudgetName)
	if err != nil {
		return nil, err
	}
	c := b.budget
	return &budgets.DescribeBudgetOutput{Budget: &c}, nil
}

func (f *Budgets) CreateBudget(_ context.Context, in *budgets.CreateBudgetInput, _ ...func(*budgets.Options)) (*budgets.CreateBudgetOutput, error) {
	if err := f.log.mutate("CreateBudget"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Budget.BudgetName)
	if _, ok := f.budgets[name]; ok {
		return nil, APIError("DuplicateRecordException", "budget %s exists", name)
	}
	b := &budget{budget: *in.Budget}
	b.budget.CalculatedSpend = &types.CalculatedSpend{ActualSpend: &types.Spend{Amount: aws.String("0.0"), Unit: aws.String("USD")}}
	for _, n := range in.NotificationsWithSubscribers {
		b.notifications = append(b.notifications, *n.Notification)
	}
	f.budgets[name] = b
	return &budgets.CreateBudgetOutput{}, nil
}

func (f *Budgets) UpdateBudget(_ context.Context, in *budgets.UpdateBudgetInput, _ ...func(*budgets.Options)) (*budgets.UpdateBudgetOutput, error) {
	if err := f.log.mutate("UpdateBudget"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(in.NewBudget.BudgetName)
	if err != nil {
		return nil, err
	}
	spend := b.budget.CalculatedSpend
	b.budget = *in.NewBudget
	b.budget.CalculatedSpend = spend
	return &budgets.UpdateBudgetOutput{}, nil
}

func (f *Budgets) DescribeNotificationsForBudget(_ context.Context, in *budgets.DescribeNotificationsForBudgetInput, _ ...func(*budgets.Options)) (*budgets.DescribeNotificationsForBudgetOutput, error) {
	if err := f.log.read("DescribeNotificationsForBudget"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(in.BudgetName)
	if err != nil {
		return nil, err
	}
	return &budgets.DescribeNotificationsForBudgetOutput{Notifications: append([]types.Notification(nil), b.notifications...)}, nil
}

func (f *Budgets) CreateNotification(_ context.Context, in *budgets.CreateNotificationInput, _ ...func(*budgets.Options)) (*budgets.CreateNotificationOutput, error) {
	if err := f.log.mutate("CreateNotification"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(in.BudgetName)
	if err != nil {
		return nil, err
	}
	b.notifications = append(b.notifications, *in.Notification)
	return &budgets.CreateNotificationOutput{}, nil
}

func (f *Budgets) DescribeBudgetActionsForBudget(_ context.Context, in *budgets.DescribeBudgetActionsForBudgetInput, _ ...func(*budgets.Options)) (*budgets.DescribeBudgetActionsForBudgetOutput, error) {
	if err := f.log.read("DescribeBudgetActionsForBudget"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(in.BudgetName)
	if err != nil {
		return nil, err
	}
	return &budgets.DescribeBudgetActionsForBudgetOutput{Actions: append([]types.Action(nil), b.actions...)}, nil
}

func (f *Budgets) CreateBudgetAction(_ context.Context, in *budgets.CreateBudgetActionInput, _ ...func(*budgets.Options)) (*budgets.CreateBudgetActionOutput, error) {
	if err := f.log.mutate("CreateBudgetAction"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(in.BudgetName)
	if err != nil {
		return nil, err
	}
	f.nextID++
	id := fmt.Sprintf("action-%d", f.nextID)
	b.actions = append(b.actions, types.Action{
		ActionId:         aws.String(id),
		BudgetName:       in.BudgetName,
		ActionType:       in.ActionType,
		ActionThreshold:  in.ActionThreshold,
		ApprovalModel:    in.ApprovalModel,
		Definition:       in.Definition,
		ExecutionRoleArn: in.ExecutionRoleArn,
		NotificationType: in.NotificationType,
		Subscribers:      in.Subscribers,
		Status:           types.ActionStatusStandby,
	})
	return &budgets.CreateBudgetActionOutput{ActionId: aws.String(id), BudgetName: in.BudgetName, AccountId: in.AccountId}, nil
}

func (f *Budgets) UpdateBudgetAction(_ context.Context, in *budgets.UpdateBudgetActionInput, _ ...func(*budgets.Options)) (*budgets.UpdateBudgetActionOutput, error) {
	if err := f.log.mutate("UpdateBudgetAction"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(in.BudgetName)
	if err != nil {
		return nil, err
	}
	for i := range b.actions {
		a := &b.actions[i]
		if aws.ToString(a.ActionId) == aws.ToString(in.ActionId) {
			a.ActionThreshold = in.ActionThreshold
			a.ApprovalModel = in.ApprovalModel
			a.Definition = in.Definition
			a.ExecutionRoleArn = in.ExecutionRoleArn
			a.NotificationType = in.NotificationType
			a.Subscribers = in.Subscribers
			return &budgets.UpdateBudgetActionOutput{}, nil
		}
	}
	return nil, APIError("NotFoundException", "action not found")
}

func (f *Budgets) ExecuteBudgetAction(_ context.Context, in *budgets.ExecuteBudgetActionInput, _ ...func(*budgets.Options)) (*budgets.ExecuteBudgetActionOutput, error) {
	if err := f.log.mutate("ExecuteBudgetAction"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(in.BudgetName)
	if err != nil {
		return nil, err
	}
	for i := range b.actions {
		if aws.ToString(b.actions[i].ActionId) == aws.ToString(in.ActionId) {
			if in.ExecutionType == types.ExecutionTypeReverseBudgetAction {
				b.actions[i].Status = types.ActionStatusReverseSuccess
			} else {
				b.actions[i].Status = types.ActionStatusExecutionSuccess
			}
			return &budgets.ExecuteBudgetActionOutput{ActionId: in.ActionId, ExecutionType: in.ExecutionType}, nil
		}
	}
	return nil, APIError("NotFoundException", "action not found")
}
