package scheduler

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
)

const (
	DefaultGroup = "default"
	// FlexibleWindowMinutes lets the scheduler spread invocations over a short window.
	FlexibleWindowMinutes = 5
	maxRetryAttempts      = 2
)

type API interface {
	GetSchedule(ctx context.Context, params *scheduler.GetScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.GetScheduleOutput, error)
	CreateSchedule(ctx context.Context, params *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	UpdateSchedule(ctx context.Context, params *scheduler.UpdateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error)
}

type SchedulerClient struct {
	api      API
	recorder *plan.Recorder
	logger   logging.LogManager
}

func NewSchedulerClient(cfg aws.Config, recorder *plan.Recorder) *SchedulerClient {
	return NewSchedulerClientWithAPI(scheduler.NewFromConfig(cfg), recorder)
}

func NewSchedulerClientWithAPI(api API, recorder *plan.Recorder) *SchedulerClient {
	return &SchedulerClient{api: api, recorder: recorder, logger: logging.GetLogManager()}
}

// ScheduleSpec is the desired state of a schedule invoking a Lambda function.
type ScheduleSpec struct {
	Name        string
	Group       string
	Description string
	Expression  string
	// Timezone is only sent along cron expressions.
	Timezone  string
	TargetARN string
	RoleARN   string
	Input     string
}

type ScheduleResult struct {
	ARN     string `json:"arn"`
	State   string `json:"state"`
	Created bool   `json:"created"`
	Updated bool   `json:"updated"`
}

func (s ScheduleSpec) group() string {
	if s.Group == "" {
		return DefaultGroup
	}
	return s.Group
}

// GetSchedule returns nil when the schedule does not exist.
func (sc *SchedulerClient) GetSchedule(ctx context.Context, name, group string) (*scheduler.GetScheduleOutput, error) {
	if group == "" {
		group = DefaultGroup
	}
	output, err := sc.api.GetSchedule(ctx, &scheduler.GetScheduleInput{Name: aws.String(name), GroupName: aws.String(group)})
	if err != nil {
		if sc.recorder.Absent(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule %s: %w", name, err)
	}
	return output, nil
}

// EnsureSchedule creates the schedule or updates it when it drifted. The state of an
// existing schedule is kept, a schedule disabled by the kill switch stays disabled.
func (sc *SchedulerClient) EnsureSchedule(ctx context.Context, spec ScheduleSpec) (ScheduleResult, error) {
	current, err := sc.GetSchedule(ctx, spec.Name, spec.group())
	if err != nil {
		return ScheduleResult{}, err
	}

	if current == nil {
		result := ScheduleResult{Created: true, State: string(types.ScheduleStateEnabled)}
		input := &scheduler.CreateScheduleInput{
			Name:                       aws.String(spec.Name),
			GroupName:                  aws.String(spec.group()),
			Description:                aws.String(spec.Description),
			ScheduleExpression:         aws.String(spec.Expression),
			ScheduleExpressionTimezone: timezone(spec),
			FlexibleTimeWindow:         flexibleWindow(),
			Target:                     target(spec),
			State:                      types.ScheduleStateEnabled,
		}
		err := sc.recorder.Do("scheduler", "CreateSchedule", spec.Name, input, func() error {
			output, err := sc.api.CreateSchedule(ctx, input)
			if err != nil {
				return err
			}
			result.ARN = aws.ToString(output.ScheduleArn)
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("create schedule %s: %w", spec.Name, err)
		}
		sc.logger.Info("Created schedule", "schedule", spec.Name, "expression", spec.Expression)
		return result, nil
	}

	result := ScheduleResult{ARN: aws.ToString(current.Arn), State: string(current.State)}
	if !drifted(current, spec) {
		sc.logger.Info("Schedule up to date", "schedule", spec.Name, "state", current.State)
		return result, nil
	}
	state := current.State
	if state == "" {
		state = types.ScheduleStateEnabled
	}
	input := &scheduler.UpdateScheduleInput{
		Name:                       aws.String(spec.Name),
		GroupName:                  aws.String(spec.group()),
		Description:                aws.String(spec.Description),
		ScheduleExpression:         aws.String(spec.Expression),
		ScheduleExpressionTimezone: timezone(spec),
		FlexibleTimeWindow:         flexibleWindow(),
		Target:                     target(spec),
		State:                      state,
	}
	err = sc.recorder.Do("scheduler", "UpdateSchedule", spec.Name, input, func() error {
		_, err := sc.api.UpdateSchedule(ctx, input)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("update schedule %s: %w", spec.Name, err)
	}
	result.Updated = true
	sc.logger.Info("Updated schedule", "schedule", spec.Name, "expression", spec.Expression)
	return result, nil
}

// SetState enables or disables an existing schedule. UpdateSchedule replaces the whole
// definition, so the current one is sent back with the new state.
func (sc *SchedulerClient) SetState(ctx context.Context, name, group string, state types.ScheduleState) (bool, error) {
	current, err := sc.GetSchedule(ctx, name, group)
	if err != nil {
		return false, err
	}
	if current == nil {
		sc.logger.Warn("Schedule not found", "schedule", name)
		return false, nil
	}
	if current.State == state {
		return false, nil
	}
	input := &scheduler.UpdateScheduleInput{
		Name:                       current.Name,
		GroupName:                  current.GroupName,
		Description:                current.Description,
		ScheduleExpression:         current.ScheduleExpression,
		ScheduleExpressionTimezone: current.ScheduleExpressionTimezone,
		StartDate:                  current.StartDate,
		EndDate:                    current.EndDate,
		FlexibleTimeWindow:         current.FlexibleTimeWindow,
		Target:                     current.Target,
		KmsKeyArn:                  current.KmsKeyArn,
		ActionAfterCompletion:      current.ActionAfterCompletion,
		State:                      state,
	}
	if input.FlexibleTimeWindow == nil {
		input.FlexibleTimeWindow = flexibleWindow()
	}
	err = sc.recorder.Do("scheduler", "UpdateSchedule", name, map[string]string{"State": string(state)}, func() error {
		_, err := sc.api.UpdateSchedule(ctx, input)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("set schedule %s to %s: %w", name, state, err)
	}
	return true, nil
}

func timezone(spec ScheduleSpec) *string {
	if spec.Timezone == "" || !IsCron(spec.Expression) {
		return nil
	}
	return aws.String(spec.Timezone)
}

func flexibleWindow() *types.FlexibleTimeWindow {
	return &types.FlexibleTimeWindow{
		Mode:                   types.FlexibleTimeWindowModeFlexible,
		MaximumWindowInMinutes: aws.Int32(FlexibleWindowMinutes),
	}
}

func target(spec ScheduleSpec) *types.Target {
	return &types.Target{
		Arn:         aws.String(spec.TargetARN),
		RoleArn:     aws.String(spec.RoleARN),
		Input:       aws.String(spec.Input),
		RetryPolicy: &types.RetryPolicy{MaximumRetryAttempts: aws.Int32(maxRetryAttempts)},
	}
}

func drifted(current *scheduler.GetScheduleOutput, spec ScheduleSpec) bool {
	if aws.ToString(current.ScheduleExpression) != spec.Expression ||
		aws.ToString(current.ScheduleExpressionTimezone) != aws.ToString(timezone(spec)) ||
		aws.ToString(current.Description) != spec.Description {
		return true
	}
	w := current.FlexibleTimeWindow
	if w == nil || w.Mode != types.FlexibleTimeWindowModeFlexible || aws.ToInt32(w.MaximumWindowInMinutes) != FlexibleWindowMinutes {
		return true
	}
	t := current.Target
	if t == nil {
		return true
	}
	return aws.ToString(t.Arn) != spec.TargetARN ||
		aws.ToString(t.RoleArn) != spec.RoleARN ||
		aws.ToString(t.Input) != spec.Input ||
		t.RetryPolicy == nil || aws.ToInt32(t.RetryPolicy.MaximumRetryAttempts) != maxRetryAttempts
}
