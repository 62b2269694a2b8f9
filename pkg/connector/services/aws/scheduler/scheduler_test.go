package scheduler

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/primait/lambda-deploy/pkg/connector/fakeaws"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scheduleSpec() ScheduleSpec {
	return ScheduleSpec{
		Name:        "fn-schedule",
		Description: "Invokes fn",
		Expression:  "rate(5 minutes)",
		Timezone:    "Europe/Rome",
		TargetARN:   "arn:aws:lambda:eu-west-1:123456789012:function:fn",
		RoleARN:     "arn:aws:iam::123456789012:role/fn-scheduler-role",
		Input:       `{"source":"aws.scheduler"}`,
	}
}

func TestEnsureSchedule(t *testing.T) {
	cloud := fakeaws.New("123456789012", "eu-west-1")
	client := NewSchedulerClientWithAPI(cloud.Scheduler, plan.NewRecorder(false, logging.New(io.Discard)))
	ctx := context.Background()

	result, err := client.EnsureSchedule(ctx, scheduleSpec())
	require.NoError(t, err)
	assert.True(t, result.Created)
	stored := cloud.Scheduler.Schedule("default", "fn-schedule")
	require.NotNil(t, stored)
	assert.Nil(t, stored.ScheduleExpressionTimezone, "timezone only applies to cron")
	assert.Equal(t, types.FlexibleTimeWindowModeFlexible, stored.FlexibleTimeWindow.Mode)
	assert.Equal(t, int32(FlexibleWindowMinutes), aws.ToInt32(stored.FlexibleTimeWindow.MaximumWindowInMinutes))

	cloud.Reset()
	result, err = client.EnsureSchedule(ctx, scheduleSpec())
	require.NoError(t, err)
	assert.False(t, result.Created || result.Updated)
	assert.Empty(t, cloud.Mutations())

	spec := scheduleSpec()
	spec.Expression = "cron(0 8 * * ? *)"
	result, err = client.EnsureSchedule(ctx, spec)
	require.NoError(t, err)
	assert.True(t, result.Updated)
	assert.Equal(t, "Europe/Rome", aws.ToString(cloud.Scheduler.Schedule("default", "fn-schedule").ScheduleExpressionTimezone))
}

func TestSetStateKeepsDefinition(t *testing.T) {
	cloud := fakeaws.New("123456789012", "eu-west-1")
	client := NewSchedulerClientWithAPI(cloud.Scheduler, plan.NewRecorder(false, logging.New(io.Discard)))
	ctx := context.Background()
	_, err := client.EnsureSchedule(ctx, scheduleSpec())
	require.NoError(t, err)

	changed, err := client.SetState(ctx, "fn-schedule", "", types.ScheduleStateDisabled)
	require.NoError(t, err)
	assert.True(t, changed)
	stored := cloud.Scheduler.Schedule("default", "fn-schedule")
	assert.Equal(t, types.ScheduleStateDisabled, stored.State)
	assert.Equal(t, "rate(5 minutes)", aws.ToString(stored.ScheduleExpression))
	assert.Equal(t, scheduleSpec().TargetARN, aws.ToString(stored.Target.Arn))

	changed, err = client.SetState(ctx, "fn-schedule", "", types.ScheduleStateDisabled)
	require.NoError(t, err)
	assert.False(t, changed)

	// a redeploy keeps the schedule disabled
	_, err = client.EnsureSchedule(ctx, scheduleSpec())
	require.NoError(t, err)
	assert.Equal(t, types.ScheduleStateDisabled, cloud.Scheduler.Schedule("default", "fn-schedule").State)

	changed, err = client.SetState(ctx, "missing", "", types.ScheduleStateEnabled)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestIsCron(t *testing.T) {
	assert.True(t, IsCron(" cron(0 8 * * ? *)"))
	assert.False(t, IsCron("rate(1 hour)"))
	assert.False(t, IsCron("at(2030-01-01T00:00:00)"))
}
