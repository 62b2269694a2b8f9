package budgets

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/budgets/types"
	"github.com/primait/lambda-deploy/pkg/connector/fakeaws"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	account  = "123456789012"
	topicARN = "arn:aws:sns:us-east-1:123456789012:fn-budget-alerts"
	killARN  = "arn:aws:iam::123456789012:policy/fn-kill-switch"
)

func budgetSpec(amount string) BudgetSpec {
	return BudgetSpec{AccountID: account, Name: "fn-budget", Amount: amount, TopicARN: topicARN}
}

func actionSpec() ActionSpec {
	return ActionSpec{
		AccountID:        account,
		BudgetName:       "fn-budget",
		PolicyARN:        killARN,
		Roles:            []string{"fn-scheduler-role", "fn-execution-role"},
		ExecutionRoleARN: "arn:aws:iam::123456789012:role/fn-budget-action-role",
		TopicARN:         topicARN,
	}
}

func TestEnsureBudget(t *testing.T) {
	cloud := fakeaws.New(account, "us-east-1")
	client := NewBudgetsClientWithAPI(cloud.Budgets, plan.NewRecorder(false, logging.New(io.Discard)))
	ctx := context.Background()

	result, err := client.EnsureBudget(ctx, budgetSpec("1.00"))
	require.NoError(t, err)
	assert.True(t, result.Created)
	b := cloud.Budgets.Budget("fn-budget")
	require.NotNil(t, b)
	assert.Equal(t, types.TimeUnitMonthly, b.TimeUnit)
	assert.Equal(t, FilteredServices, b.CostFilters["Service"])

	cloud.Reset()
	result, err = client.EnsureBudget(ctx, budgetSpec("1.0"))
	require.NoError(t, err)
	assert.False(t, result.Updated)
	assert.Zero(t, result.NotificationsCreated)
	assert.Empty(t, cloud.Mutations())

	result, err = client.EnsureBudget(ctx, budgetSpec("5.00"))
	require.NoError(t, err)
	assert.True(t, result.Updated)
	actual, limit := Spend(cloud.Budgets.Budget("fn-budget"))
	assert.Equal(t, "5.00", limit)
	assert.Equal(t, "0.0", actual)
}

func TestEnsureActionAndReverse(t *testing.T) {
	cloud := fakeaws.New(account, "us-east-1")
	client := NewBudgetsClientWithAPI(cloud.Budgets, plan.NewRecorder(false, logging.New(io.Discard)))
	ctx := context.Background()
	_, err := client.EnsureBudget(ctx, budgetSpec("1.00"))
	require.NoError(t, err)

	changed, err := client.EnsureAction(ctx, actionSpec(), false)
	require.NoError(t, err)
	assert.True(t, changed)
	actions := cloud.Budgets.Actions("fn-budget")
	require.Len(t, actions, 1)
	assert.Equal(t, types.ApprovalModelAuto, actions[0].ApprovalModel)
	assert.Equal(t, BreachThreshold, actions[0].ActionThreshold.ActionThresholdValue)
	assert.Equal(t, []string{"fn-execution-role", "fn-scheduler-role"}, actions[0].Definition.IamActionDefinition.Roles)

	changed, err = client.EnsureAction(ctx, actionSpec(), false)
	require.NoError(t, err)
	assert.False(t, changed)

	spec := actionSpec()
	spec.Roles = []string{"fn-scheduler-role"}
	changed, err = client.EnsureAction(ctx, spec, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, cloud.Budgets.Actions("fn-budget"), 1)

	reversed, err := client.ReverseAction(ctx, account, "fn-budget", killARN)
	require.NoError(t, err)
	assert.False(t, reversed, "standby actions are not reversed")

	cloud.Budgets.SetActionStatus("fn-budget", types.ActionStatusExecutionSuccess)
	reversed, err = client.ReverseAction(ctx, account, "fn-budget", killARN)
	require.NoError(t, err)
	assert.True(t, reversed)
	assert.Equal(t, types.ActionStatusReverseSuccess, cloud.Budgets.Actions("fn-budget")[0].Status)
}

func TestEnsureBudgetDryRun(t *testing.T) {
	cloud := fakeaws.New(account, "us-east-1")
	rec := plan.NewRecorder(true, logging.New(io.Discard))
	client := NewBudgetsClientWithAPI(cloud.Budgets, rec)
	ctx := context.Background()

	result, err := client.EnsureBudget(ctx, budgetSpec("1.00"))
	require.NoError(t, err)
	_, err = client.EnsureAction(ctx, actionSpec(), result.Created)
	require.NoError(t, err)
	assert.Empty(t, cloud.Mutations())
	require.Len(t, rec.Calls(), 2)
	assert.Equal(t, "CreateBudgetAction", rec.Calls()[1].Operation)
	assert.Equal(t, "fn-budget", rec.Calls()[1].Target)
}

func TestSameAmount(t *testing.T) {
	assert.True(t, sameAmount("1.0", "1.00"))
	assert.False(t, sameAmount("1.5", "1.50001"))
	assert.True(t, sameAmount("abc", "abc"))
}
