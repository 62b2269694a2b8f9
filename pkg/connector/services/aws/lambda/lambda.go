package lambda

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/awserr"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
)

// WaitTimeout bounds how long a function may stay Pending or InProgress.
const WaitTimeout = 5 * time.Minute

type API interface {
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
	CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	UpdateFunctionConfiguration(ctx context.Context, params *lambda.UpdateFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error)
	TagResource(ctx context.Context, params *lambda.TagResourceInput, optFns ...func(*lambda.Options)) (*lambda.TagResourceOutput, error)
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
	GetFunctionConcurrency(ctx context.Context, params *lambda.GetFunctionConcurrencyInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConcurrencyOutput, error)
	PutFunctionConcurrency(ctx context.Context, params *lambda.PutFunctionConcurrencyInput, optFns ...func(*lambda.Options)) (*lambda.PutFunctionConcurrencyOutput, error)
	DeleteFunctionConcurrency(ctx context.Context, params *lambda.DeleteFunctionConcurrencyInput, optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionConcurrencyOutput, error)
}

type LambdaClient struct {
	api      API
	recorder *plan.Recorder
	logger   logging.LogManager
	// WaitTimeout overrides the default wait for function state transitions.
	WaitTimeout time.Duration
}

func NewLambdaClient(cfg aws.Config, recorder *plan.Recorder) *LambdaClient {
	return NewLambdaClientWithAPI(lambda.NewFromConfig(cfg), recorder)
}

func NewLambdaClientWithAPI(api API, recorder *plan.Recorder) *LambdaClient {
	return &LambdaClient{api: api, recorder: recorder, logger: logging.GetLogManager(), WaitTimeout: WaitTimeout}
}

// SupportedRuntime reports whether the SDK knows runtime as a Lambda runtime identifier.
func SupportedRuntime(runtime string) bool {
	for _, r := range types.Runtime("").Values() {
		if string(r) == runtime {
			return true
		}
	}
	return false
}

// GetFunction returns nil when the function does not exist.
func (lc *LambdaClient) GetFunction(ctx context.Context, name string) (*lambda.GetFunctionOutput, error) {
	output, err := lc.api.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(name)})
	if err != nil {
		if lc.recorder.Absent(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get function %s: %w", name, err)
	}
	return output, nil
}

// InvokeResult is the outcome of a synchronous invocation.
type InvokeResult struct {
	StatusCode    int32
	FunctionError string
	Payload       []byte
	Log           string
}

// Invoke runs the function synchronously and returns the last 4 KB of its log.
// It is a read for the plan: a dry run never gets here.
func (lc *LambdaClient) Invoke(ctx context.Context, name string, payload []byte) (*InvokeResult, error) {
	output, err := lc.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(name),
		InvocationType: types.InvocationTypeRequestResponse,
		LogType:        types.LogTypeTail,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	result := &InvokeResult{
		StatusCode:    output.StatusCode,
		FunctionError: aws.ToString(output.FunctionError),
		Payload:       output.Payload,
	}
	if output.LogResult != nil {
		if decoded, err := base64.StdEncoding.DecodeString(aws.ToString(output.LogResult)); err == nil {
			result.Log = string(decoded)
		}
	}
	return result, nil
}

// ReservedConcurrency returns the reserved concurrency of the function, nil when unset.
func (lc *LambdaClient) ReservedConcurrency(ctx context.Context, name string) (*int32, error) {
	output, err := lc.api.GetFunctionConcurrency(ctx, &lambda.GetFunctionConcurrencyInput{FunctionName: aws.String(name)})
	if err != nil {
		return nil, fmt.Errorf("get function concurrency of %s: %w", name, err)
	}
	return output.ReservedConcurrentExecutions, nil
}

// Throttle reserves zero concurrency, which rejects every invocation.
func (lc *LambdaClient) Throttle(ctx context.Context, name string) error {
	input := &lambda.PutFunctionConcurrencyInput{
		FunctionName:                 aws.String(name),
		ReservedConcurrentExecutions: aws.Int32(0),
	}
	err := lc.recorder.Do("lambda", "PutFunctionConcurrency", name, input, func() error {
		_, err := lc.api.PutFunctionConcurrency(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("throttle %s: %w", name, err)
	}
	return nil
}

// Unthrottle removes any reserved concurrency setting.
func (lc *LambdaClient) Unthrottle(ctx context.Context, name string) error {
	input := &lambda.DeleteFunctionConcurrencyInput{FunctionName: aws.String(name)}
	err := lc.recorder.Do("lambda", "DeleteFunctionConcurrency", name, input, func() error {
		_, err := lc.api.DeleteFunctionConcurrency(ctx, input)
		if awserr.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("remove concurrency limit of %s: %w", name, err)
	}
	return nil
}

func (lc *LambdaClient) waitActive(ctx context.Context, name string) error {
	if lc.recorder.DryRun() {
		return nil
	}
	lc.logger.Debug("Waiting for function to become active", "function", name)
	waiter := lambda.NewFunctionActiveWaiter(lc.api)
	if err := waiter.Wait(ctx, &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(name)}, lc.WaitTimeout); err != nil {
		return fmt.Errorf("wait for %s to become active: %w", name, err)
	}
	return nil
}

func (lc *LambdaClient) waitUpdated(ctx context.Context, name string) error {
	if lc.recorder.DryRun() {
		return nil
	}
	lc.logger.Debug("Waiting for function update to complete", "function", name)
	waiter := lambda.NewFunctionUpdatedWaiter(lc.api)
	if err := waiter.Wait(ctx, &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(name)}, lc.WaitTimeout); err != nil {
		return fmt.Errorf("wait for %s update: %w", name, err)
	}
	return nil
}
