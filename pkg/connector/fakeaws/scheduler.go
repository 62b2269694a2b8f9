package fakeaws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
)

type schedule = scheduler.GetScheduleOutput

type Scheduler struct {
	log     *Log
	account string
	region  string

	mu        sync.Mutex
	schedules map[string]*schedule
}

func scheduleKey(group, name *string) string {
	g := aws.ToString(group)
	if g == "" {
		g = "default"
	}
	return g + "/" + aws.ToString(name)
}

// Schedule returns a copy of a stored schedule, nil when missing.
func (f *Scheduler) Schedule(group, name string) *scheduler.GetScheduleOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleKey(&group, &name)]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

func (f *Scheduler) GetSchedule(_ context.Context, in *scheduler.GetScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.GetScheduleOutput, error) {
	if err := f.log.read("GetSchedule"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleKey(in.GroupName, in.Name)]
	if !ok {
		return nil, APIError("ResourceNotFoundException", "Schedule %s does not exist.", aws.ToString(in.Name))
	}
	c := *s
	return &c, nil
}

func (f *Scheduler) CreateSchedule(_ context.Context, in *scheduler.CreateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error) {
	if err := f.log.mutate("CreateSchedule"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scheduleKey(in.GroupName, in.Name)
	if _, ok := f.schedules[key]; ok {
		return nil, APIError("ConflictException", "Schedule %s already exists.", aws.ToString(in.Name))
	}
	arn := fmt.Sprintf("arn:aws:scheduler:%s:%s:schedule/%s", f.region, f.account, key)
	f.schedules[key] = &schedule{
		Arn:                        aws.String(arn),
		Name:                       in.Name,
		GroupName:                  aws.String(aws.ToString(in.GroupName)),
		Description:                in.Description,
		ScheduleExpression:         in.ScheduleExpression,
		ScheduleExpressionTimezone: in.ScheduleExpressionTimezone,
		FlexibleTimeWindow:         in.FlexibleTimeWindow,
		Target:                     in.Target,
		State:                      in.State,
	}
	return &scheduler.CreateScheduleOutput{ScheduleArn: aws.String(arn)}, nil
}

func (f *Scheduler) UpdateSchedule(_ context.Context, in *scheduler.UpdateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error) {
	if err := f.log.mutate("UpdateSchedule"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schedules[scheduleKey(in.GroupName, in.Name)]
	if !ok {
		return nil, APIError("ResourceNotFoundException", "Schedule %s does not exist.", aws.ToString(in.Name))
	}
	s.Description = in.Description
	s.ScheduleExpression = in.ScheduleExpression
	s.ScheduleExpressionTimezone = in.ScheduleExpressionTimezone
	s.FlexibleTimeWindow = in.FlexibleTimeWindow
	s.Target = in.Target
	s.State = in.State
	return &scheduler.UpdateScheduleOutput{ScheduleArn: s.Arn}, nil
}
