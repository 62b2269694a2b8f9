package lambda

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/awserr"
)

// EnsureFunction creates the function or updates its code and configuration. The
// code is only uploaded when its SHA-256 or architecture differs from the deployed
// one, the configuration only when a field differs.
func (lc *LambdaClient) EnsureFunction(ctx context.Context, spec FunctionSpec) (DeployResult, error) {
	current, err := lc.GetFunction(ctx, spec.Name)
	if err != nil {
		return DeployResult{}, err
	}
	if current == nil || current.Configuration == nil {
		return lc.create(ctx, spec)
	}
	return lc.update(ctx, spec, current)
}

func (lc *LambdaClient) create(ctx context.Context, spec FunctionSpec) (DeployResult, error) {
	result := DeployResult{Created: true, CodeSHA256: spec.Code.SHA256}
	input := &lambda.CreateFunctionInput{
		FunctionName:  aws.String(spec.Name),
		Description:   aws.String(spec.Description),
		Role:          aws.String(spec.RoleARN),
		Handler:       aws.String(spec.Handler),
		Runtime:       types.Runtime(spec.Runtime),
		Architectures: []types.Architecture{types.Architecture(spec.Architecture)},
		Timeout:       aws.Int32(spec.Timeout),
		MemorySize:    aws.Int32(spec.MemorySize),
		PackageType:   types.PackageTypeZip,
		Environment:   &types.Environment{Variables: spec.Environment},
		Tags:          spec.Tags,
		Code:          functionCode(spec.Code),
	}

	shown := *input
	shown.Code = &types.FunctionCode{S3Bucket: input.Code.S3Bucket, S3Key: input.Code.S3Key}
	err := lc.recorder.Do("lambda", "CreateFunction", spec.Name, planParams{&shown, spec.Code}, func() error {
		output, err := lc.api.CreateFunction(ctx, input)
		if err != nil {
			return err
		}
		result.ARN = aws.ToString(output.FunctionArn)
		result.Version = aws.ToString(output.Version)
		return nil
	}, envRedactions("input_", spec.Environment)...)
	if err != nil {
		if awserr.IsAlreadyExists(err) {
			lc.logger.Warn("Function created concurrently, updating it instead", "function", spec.Name)
			current, getErr := lc.GetFunction(ctx, spec.Name)
			if getErr != nil || current == nil {
				return result, fmt.Errorf("create function %s: %w", spec.Name, err)
			}
			return lc.update(ctx, spec, current)
		}
		return result, fmt.Errorf("create function %s: %w", spec.Name, err)
	}
	lc.logger.Info("Created Lambda function", "function", spec.Name)
	return result, lc.waitActive(ctx, spec.Name)
}

func (lc *LambdaClient) update(ctx context.Context, spec FunctionSpec, current *lambda.GetFunctionOutput) (DeployResult, error) {
	cfg := current.Configuration
	result := DeployResult{
		ARN:        aws.ToString(cfg.FunctionArn),
		Version:    aws.ToString(cfg.Version),
		CodeSHA256: aws.ToString(cfg.CodeSha256),
	}

	// A function may still be settling from a previous run.
	if err := lc.waitUpdated(ctx, spec.Name); err != nil {
		return result, err
	}

	if aws.ToString(cfg.CodeSha256) != spec.Code.SHA256 || !sameArchitecture(cfg.Architectures, spec.Architecture) {
		input := &lambda.UpdateFunctionCodeInput{
			FunctionName:  aws.String(spec.Name),
			Architectures: []types.Architecture{types.Architecture(spec.Architecture)},
		}
		if spec.Code.S3Bucket != "" {
			input.S3Bucket = aws.String(spec.Code.S3Bucket)
			input.S3Key = aws.String(spec.Code.S3Key)
		} else {
			input.ZipFile = spec.Code.ZipFile
		}
		shown := *input
		shown.ZipFile = nil
		err := lc.recorder.Do("lambda", "UpdateFunctionCode", spec.Name, planParams{&shown, spec.Code}, func() error {
			_, err := lc.api.UpdateFunctionCode(ctx, input)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("update function code of %s: %w", spec.Name, err)
		}
		lc.logger.Info("Updated function code", "function", spec.Name, "from", aws.ToString(cfg.CodeSha256), "to", spec.Code.SHA256)
		result.CodeUpdated = true
		result.CodeSHA256 = spec.Code.SHA256
		if err := lc.waitUpdated(ctx, spec.Name); err != nil {
			return result, err
		}
	} else {
		lc.logger.Info("Function code unchanged, skipping upload", "function", spec.Name, "sha256", spec.Code.SHA256)
	}

	if configurationDiffers(cfg, spec) {
		input := &lambda.UpdateFunctionConfigurationInput{
			FunctionName: aws.String(spec.Name),
			Description:  aws.String(spec.Description),
			Role:         aws.String(spec.RoleARN),
			Handler:      aws.String(spec.Handler),
			Runtime:      types.Runtime(spec.Runtime),
			Timeout:      aws.Int32(spec.Timeout),
			MemorySize:   aws.Int32(spec.MemorySize),
			Environment:  &types.Environment{Variables: spec.Environment},
		}
		err := lc.recorder.Do("lambda", "UpdateFunctionConfiguration", spec.Name, input, func() error {
			_, err := lc.api.UpdateFunctionConfiguration(ctx, input)
			return err
		}, envRedactions("", spec.Environment)...)
		if err != nil {
			return result, fmt.Errorf("update function configuration of %s: %w", spec.Name, err)
		}
		result.ConfigUpdated = true
		if err := lc.waitUpdated(ctx, spec.Name); err != nil {
			return result, err
		}
	}

	missing := make(map[string]string)
	for k, v := range spec.Tags {
		if cv, ok := current.Tags[k]; !ok || cv != v {
			missing[k] = v
		}
	}
	if len(missing) > 0 && result.ARN != "" {
		input := &lambda.TagResourceInput{Resource: aws.String(result.ARN), Tags: missing}
		err := lc.recorder.Do("lambda", "TagResource", spec.Name, input, func() error {
			_, err := lc.api.TagResource(ctx, input)
			return err
		})
		if err != nil {
			return result, fmt.Errorf("tag function %s: %w", spec.Name, err)
		}
		result.ConfigUpdated = true
	}
	return result, nil
}

// UpdateEnvironment replaces the whole environment of an existing function.
func (lc *LambdaClient) UpdateEnvironment(ctx context.Context, name string, env map[string]string) (bool, error) {
	current, err := lc.GetFunction(ctx, name)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, fmt.Errorf("function %s does not exist", name)
	}
	var existing map[string]string
	if current.Configuration.Environment != nil {
		existing = current.Configuration.Environment.Variables
	}
	if sameEnvironment(existing, env) {
		return false, nil
	}

	input := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(name),
		Environment:  &types.Environment{Variables: env},
	}
	err = lc.recorder.Do("lambda", "UpdateFunctionConfiguration", name, input, func() error {
		_, err := lc.api.UpdateFunctionConfiguration(ctx, input)
		return err
	}, envRedactions("", env)...)
	if err != nil {
		return false, fmt.Errorf("update environment of %s: %w", name, err)
	}
	return true, lc.waitUpdated(ctx, name)
}

type planParams struct {
	Input interface{} `json:"input"`
	Code  Code        `json:"code"`
}

func functionCode(code Code) *types.FunctionCode {
	if code.S3Bucket != "" {
		return &types.FunctionCode{S3Bucket: aws.String(code.S3Bucket), S3Key: aws.String(code.S3Key)}
	}
	return &types.FunctionCode{ZipFile: code.ZipFile}
}

func sameArchitecture(current []types.Architecture, desired string) bool {
	if len(current) == 0 {
		return desired == string(types.ArchitectureX8664)
	}
	return string(current[0]) == desired
}

func configurationDiffers(cfg *types.FunctionConfiguration, spec FunctionSpec) bool {
	var env map[string]string
	if cfg.Environment != nil {
		env = cfg.Environment.Variables
	}
	return aws.ToString(cfg.Role) != spec.RoleARN ||
		aws.ToString(cfg.Handler) != spec.Handler ||
		string(cfg.Runtime) != spec.Runtime ||
		aws.ToInt32(cfg.Timeout) != spec.Timeout ||
		aws.ToInt32(cfg.MemorySize) != spec.MemorySize ||
		aws.ToString(cfg.Description) != spec.Description ||
		!sameEnvironment(env, spec.Environment)
}
