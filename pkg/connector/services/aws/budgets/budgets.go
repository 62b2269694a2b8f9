package budgets

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/budgets/types"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/awserr"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
)

const (
	WarningThreshold = 80.0
	BreachThreshold  = 100.0
	currency         = "USD"
)

// FilteredServices are the Cost Explorer service names the budget tracks.
var FilteredServices = []string{"AWS Lambda", "Amazon EventBridge Scheduler"}

type API interface {
	DescribeBudget(ctx context.Context, params *budgets.DescribeBudgetInput, optFns ...func(*budgets.Options)) (*budgets.DescribeBudgetOutput, error)
	CreateBudget(ctx context.Context, params *budgets.CreateBudgetInput, optFns ...func(*budgets.Options)) (*budgets.CreateBudgetOutput, error)
	UpdateBudget(ctx context.Context, params *budgets.UpdateBudgetInput, optFns ...func(*budgets.Options)) (*budgets.UpdateBudgetOutput, error)
	DescribeNotificationsForBudget(ctx context.Context, params *budgets.DescribeNotificationsForBudgetInput, optFns ...func(*budgets.Options)) (*budgets.DescribeNotificationsForBudgetOutput, error)
	CreateNotification(ctx context.Context, params *budgets.CreateNotificationInput, optFns ...func(*budgets.Options)) (*budgets.CreateNotificationOutput, error)
	DescribeBudgetActionsForBudget(ctx context.Context, params *budgets.DescribeBudgetActionsForBudgetInput, optFns ...func(*budgets.Options)) (*budgets.DescribeBudgetActionsForBudgetOutput, error)
	CreateBudgetAction(ctx context.Context, params *budgets.CreateBudgetActionInput, optFns ...func(*budgets.Options)) (*budgets.CreateBudgetActionOutput, error)
	UpdateBudgetAction(ctx context.Context, params *budgets.UpdateBudgetActionInput, optFns ...func(*budgets.Options)) (*budgets.UpdateBudgetActionOutput, error)
	ExecuteBudgetAction(ctx context.Context, params *budgets.ExecuteBudgetActionInput, optFns ...func(*budgets.Options)) (*budgets.ExecuteBudgetActionOutput, error)
}

type BudgetsClient struct {
	api      API
	recorder *plan.Recorder
	logger   logging.LogManager
}

func NewBudgetsClient(cfg aws.Config, recorder *plan.Recorder) *BudgetsClient {
	return NewBudgetsClientWithAPI(budgets.NewFromConfig(cfg), recorder)
}

func NewBudgetsClientWithAPI(api API, recorder *plan.Recorder) *BudgetsClient {
	return &BudgetsClient{api: api, recorder: recorder, logger: logging.GetLogManager()}
}

// BudgetSpec is the desired monthly cost budget of a function.
type BudgetSpec struct {
	AccountID string
	Name      string
	// Amount is the monthly limit in USD, formatted with two decimals.
	Amount   string
	TopicARN string
}

type BudgetResult struct {
	Created              bool
	Updated              bool
	NotificationsCreated int
}

// GetBudget returns nil when the budget does not exist.
func (bc *BudgetsClient) GetBudget(ctx context.Context, accountID, name string) (*types.Budget, error) {
	output, err := bc.api.DescribeBudget(ctx, &budgets.DescribeBudgetInput{
		AccountId:  aws.String(accountID),
		BudgetName: aws.String(name),
	})
	if err != nil {
		if bc.recorder.Absent(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("describe budget %s: %w", name, err)
	}
	return output.Budget, nil
}

// EnsureBudget creates the budget with its 80% and 100% notifications, or updates
// the limit and restores missing notifications of an existing one.
func (bc *BudgetsClient) EnsureBudget(ctx context.Context, spec BudgetSpec) (BudgetResult, error) {
	current, err := bc.GetBudget(ctx, spec.AccountID, spec.Name)
	if err != nil {
		return BudgetResult{}, err
	}

	var result BudgetResult
	if current == nil {
		input := &budgets.CreateBudgetInput{
			AccountId:                    aws.String(spec.AccountID),
			Budget:                       budgetDefinition(spec),
			NotificationsWithSubscribers: notifications(spec.TopicARN),
		}
		err := bc.recorder.Do("budgets", "CreateBudget", spec.Name, input, func() error {
			_, err := bc.api.CreateBudget(ctx, input)
			if awserr.IsAlreadyExists(err) {
				return nil
			}
			return err
		})
		if err != nil {
			return result, fmt.Errorf("create budget %s: %w", spec.Name, err)
		}
		bc.logger.Info("Created budget", "budget", spec.Name, "limit", spec.Amount+" "+currency)
		result.Created = true
		return result, nil
	}

	if budgetDrifted(current, spec) {
		input := &budgets.UpdateBudgetInput{
			AccountId: aws.String(spec.AccountID),
			NewBudget: budgetDefinition(spec),
		}
		err := bc.recorder.Do("budgets", "UpdateBudget", spec.Name, input, func() error {
			_, err := bc.api.UpdateBudget(ctx, input)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("update budget %s: %w", spec.Name, err)
		}
		bc.logger.Info("Updated budget", "budget", spec.Name, "limit", spec.Amount+" "+currency)
		result.Updated = true
	}

	existing, err := bc.api.DescribeNotificationsForBudget(ctx, &budgets.DescribeNotificationsForBudgetInput{
		AccountId:  aws.String(spec.AccountID),
		BudgetName: aws.String(spec.Name),
	})
	if err != nil {
		return result, fmt.Errorf("describe notifications of %s: %w", spec.Name, err)
	}
	for _, want := range notifications(spec.TopicARN) {
		if hasNotification(existing.Notifications, want.Notification) {
			continue
		}
		input := &budgets.CreateNotificationInput{
			AccountId:    aws.String(spec.AccountID),
			BudgetName:   aws.String(spec.Name),
			Notification: want.Notification,
			Subscribers:  want.Subscribers,
		}
		err := bc.recorder.Do("budgets", "CreateNotification", spec.Name, input, func() error {
			_, err := bc.api.CreateNotification(ctx, input)
			if awserr.IsAlreadyExists(err) {
				return nil
			}
			return err
		})
		if err != nil {
			return result, fmt.Errorf("create notification on %s: %w", spec.Name, err)
		}
		result.NotificationsCreated++
	}
	return result, nil
}

func budgetDefinition(spec BudgetSpec) *types.Budget {
	return &types.Budget{
		BudgetName: aws.String(spec.Name),
		BudgetType: types.BudgetTypeCost,
		TimeUnit:   types.TimeUnitMonthly,
		BudgetLimit: &types.Spend{
			Amount: aws.String(spec.Amount),
			Unit:   aws.String(currency),
		},
		CostFilters: map[string][]string{"Service": FilteredServices},
		CostTypes: &types.CostTypes{
			IncludeCredit:            aws.Bool(false),
			IncludeDiscount:          aws.Bool(true),
			IncludeOtherSubscription: aws.Bool(true),
			IncludeRecurring:         aws.Bool(true),
			IncludeRefund:            aws.Bool(false),
			IncludeSubscription:      aws.Bool(true),
			IncludeSupport:           aws.Bool(true),
			IncludeTax:               aws.Bool(true),
			IncludeUpfront:           aws.Bool(true),
			UseBlended:               aws.Bool(false),
		},
	}
}

func notification(threshold float64) *types.Notification {
	return &types.Notification{
		NotificationType:   types.NotificationTypeActual,
		ComparisonOperator: types.ComparisonOperatorGreaterThan,
		Threshold:          threshold,
		ThresholdType:      types.ThresholdTypePercentage,
	}
}

func notifications(topicARN string) []types.NotificationWithSubscribers {
	subscribers := []types.Subscriber{{
		SubscriptionType: types.SubscriptionTypeSns,
		Address:          aws.String(topicARN),
	}}
	return []types.NotificationWithSubscribers{
		{Notification: notification(WarningThreshold), Subscribers: subscribers},
		{Notification: notification(BreachThreshold), Subscribers: subscribers},
	}
}

func hasNotification(existing []types.Notification, want *types.Notification) bool {
	for _, n := range existing {
		if n.NotificationType == want.NotificationType &&
			n.ComparisonOperator == want.ComparisonOperator &&
			n.ThresholdType == want.ThresholdType &&
			n.Threshold == want.Threshold {
			return true
		}
	}
	return false
}

func budgetDrifted(current *types.Budget, spec BudgetSpec) bool {
	if current.BudgetLimit == nil || !sameAmount(aws.ToString(current.BudgetLimit.Amount), spec.Amount) {
		return true
	}
	if current.TimeUnit != types.TimeUnitMonthly || current.BudgetType != types.BudgetTypeCost {
		return true
	}
	services := current.CostFilters["Service"]
	if len(services) != len(FilteredServices) {
		return true
	}
	for i := range services {
		if services[i] != FilteredServices[i] {
			return true
		}
	}
	return false
}

// sameAmount compares "1.0" and "1.00" as equal; the API normalises amounts.
func sameAmount(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil {
		return a == b
	}
	return fa == fb
}

// Spend returns the actual spend of the current period and the limit, in USD.
func Spend(b *types.Budget) (actual, limit string) {
	if b == nil {
		return "", ""
	}
	if b.CalculatedSpend != nil && b.CalculatedSpend.ActualSpend != nil {
		actual = aws.ToString(b.CalculatedSpend.ActualSpend.Amount)
	}
	if b.BudgetLimit != nil {
		limit = aws.ToString(b.BudgetLimit.Amount)
	}
	return actual, limit
}
