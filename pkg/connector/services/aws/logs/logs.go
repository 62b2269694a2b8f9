package logs

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/awserr"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
)

const (
	retentionAttempts = 5
	retentionBackoff  = time.Second
)

type API interface {
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
}

type LogsClient struct {
	api      API
	recorder *plan.Recorder
	logger   logging.LogManager
	backoff  time.Duration
}

func NewLogsClient(cfg aws.Config, recorder *plan.Recorder) *LogsClient {
	return NewLogsClientWithAPI(cloudwatchlogs.NewFromConfig(cfg), recorder)
}

func NewLogsClientWithAPI(api API, recorder *plan.Recorder) *LogsClient {
	return &LogsClient{api: api, recorder: recorder, logger: logging.GetLogManager(), backoff: retentionBackoff}
}

// GetLogGroup returns nil when no group has exactly that name.
func (lc *LogsClient) GetLogGroup(ctx context.Context, name string) (*types.LogGroup, error) {
	var next *string
	for {
		output, err := lc.api.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
			LogGroupNamePrefix: aws.String(name),
			NextToken:          next,
		})
		if err != nil {
			if lc.recorder.Absent(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("describe log groups %s: %w", name, err)
		}
		for i := range output.LogGroups {
			if aws.ToString(output.LogGroups[i].LogGroupName) == name {
				return &output.LogGroups[i], nil
			}
		}
		if output.NextToken == nil {
			return nil, nil
		}
		next = output.NextToken
	}
}

// EnsureLogGroup creates the group when missing and sets its retention. It returns
// whether anything changed.
func (lc *LogsClient) EnsureLogGroup(ctx context.Context, name string, retentionDays int32, tags map[string]string) (bool, error) {
	group, err := lc.GetLogGroup(ctx, name)
	if err != nil {
		return false, err
	}

	changed := false
	if group == nil {
		input := &cloudwatchlogs.CreateLogGroupInput{LogGroupName: aws.String(name), Tags: tags}
		err := lc.recorder.Do("logs", "CreateLogGroup", name, input, func() error {
			_, err := lc.api.CreateLogGroup(ctx, input)
			if awserr.IsAlreadyExists(err) {
				return nil
			}
			return err
		})
		if err != nil {
			return false, fmt.Errorf("create log group %s: %w", name, err)
		}
		lc.logger.Info("Created log group", "group", name)
		changed = true
	} else if aws.ToInt32(group.RetentionInDays) == retentionDays {
		return false, nil
	}

	input := &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(name),
		RetentionInDays: aws.Int32(retentionDays),
	}
	err = lc.recorder.Do("logs", "PutRetentionPolicy", name, input, func() error {
		return lc.retry(ctx, func() error {
			_, err := lc.api.PutRetentionPolicy(ctx, input)
			return err
		})
	})
	if err != nil {
		return changed, fmt.Errorf("set retention of %s: %w", name, err)
	}
	return true, nil
}

// retry covers a freshly created group not being visible yet.
func (lc *LogsClient) retry(ctx context.Context, fn func() error) error {
	delay := lc.backoff
	var err error
	for attempt := 1; attempt <= retentionAttempts; attempt++ {
		if err = fn(); err == nil || !awserr.IsNotFound(err) {
			return err
		}
		lc.logger.Debug("Log group not visible yet, retrying", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
