package ssm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
)

type API interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

type SSMClient struct {
	api      API
	recorder *plan.Recorder
	logger   logging.LogManager
}

func NewSSMClient(cfg aws.Config, recorder *plan.Recorder) *SSMClient {
	return NewSSMClientWithAPI(ssm.NewFromConfig(cfg), recorder)
}

func NewSSMClientWithAPI(api API, recorder *plan.Recorder) *SSMClient {
	return &SSMClient{api: api, recorder: recorder, logger: logging.GetLogManager()}
}

// PutSecureParameter stores value as a SecureString at path. A parameter already
// holding the same value is not rewritten, which would only bump its version.
func (sc *SSMClient) PutSecureParameter(ctx context.Context, path, value, description string) (bool, error) {
	current, err := sc.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(path),
		WithDecryption: aws.Bool(true),
	})
	switch {
	case err == nil:
		if current.Parameter != nil &&
			current.Parameter.Type == types.ParameterTypeSecureString &&
			aws.ToString(current.Parameter.Value) == value {
			sc.logger.Debug("Parameter unchanged", "parameter", path)
			return false, nil
		}
	case sc.recorder.Absent(err):
	default:
		return false, fmt.Errorf("get parameter %s: %w", path, err)
	}

	input := &ssm.PutParameterInput{
		Name:        aws.String(path),
		Value:       aws.String(value),
		Description: aws.String(description),
		Type:        types.ParameterTypeSecureString,
		Overwrite:   aws.Bool(true),
	}
	err = sc.recorder.Do("ssm", "PutParameter", path, input, func() error {
		_, err := sc.api.PutParameter(ctx, input)
		return err
	}, "Value")
	if err != nil {
		return false, fmt.Errorf("put parameter %s: %w", path, err)
	}
	sc.logger.Info("Stored secure parameter", "parameter", path)
	return true, nil
}
