package fakeaws

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

type function struct {
	config      types.FunctionConfiguration
	tags        map[string]string
	concurrency *int32
}

type Lambda struct {
	log     *Log
	account string
	region  string
	s3      *S3

	mu        sync.Mutex
	functions map[string]*function
	version   int

	// InvokePayload is returned by Invoke; FunctionError marks it as a handler failure.
	InvokePayload []byte
	FunctionError string
	Invocations   [][]byte
}

func newLambda(log *Log, account, region string, s3 *S3) *Lambda {
	return &Lambda{
		log:           log,
		account:       account,
		region:        region,
		s3:            s3,
		functions:     map[string]*function{},
		InvokePayload: []byte(`{"statusCode":200}`),
	}
}

// Function returns a copy of the stored configuration, nil when missing.
func (f *Lambda) Function(name string) *types.FunctionConfiguration {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, ok := f.functions[name]
	if !ok {
		return nil
	}
	c := fn.config
	return &c
}

// Concurrency returns the reserved concurrency of a function, nil when unset.
func (f *Lambda) Concurrency(name string) *int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn, ok := f.functions[name]; ok {
		return fn.concurrency
	}
	return nil
}

func (f *Lambda) codeSHA(zip []byte, bucket, key *string) (string, int64, error) {
	if bucket != nil {
		data, ok := f.s3.Object(aws.ToString(bucket), aws.ToString(key))
		if !ok {
			return "", 0, APIError("InvalidParameterValueException", "s3://%s/%s not found", aws.ToString(bucket), aws.ToString(key))
		}
		zip = data
	}
	sum := sha256.Sum256(zip)
	return base64.StdEncoding.EncodeToString(sum[:]), int64(len(zip)), nil
}

func (f *Lambda) lookup(name *string) (*function, error) {
	fn, ok := f.functions[aws.ToString(name)]
	if !ok {
		return nil, APIError("ResourceNotFoundException", "Function not found: %s", aws.ToString(name))
	}
	return fn, nil
}

func (f *Lambda) GetFunction(_ context.Context, in *lambda.GetFunctionInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	if err := f.log.read("GetFunction"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, err := f.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	c := fn.config
	tags := make(map[string]string, len(fn.tags))
	for k, v := range fn.tags {
		tags[k] = v
	}
	out := &lambda.GetFunctionOutput{Configuration: &c, Tags: tags}
	if fn.concurrency != nil {
		out.Concurrency = &types.Concurrency{ReservedConcurrentExecutions: fn.concurrency}
	}
	return out, nil
}

func (f *Lambda) GetFunctionConfiguration(_ context.Context, in *lambda.GetFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
	if err := f.log.read("GetFunctionConfiguration"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, err := f.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	c := fn.config
	return &lambda.GetFunctionConfigurationOutput{
		FunctionName:     c.FunctionName,
		FunctionArn:      c.FunctionArn,
		State:            c.State,
		LastUpdateStatus: c.LastUpdateStatus,
		CodeSha256:       c.CodeSha256,
	}, nil
}

func (f *Lambda) CreateFunction(_ context.Context, in *lambda.CreateFunctionInput, _ ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	if err := f.log.mutate("CreateFunction"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.FunctionName)
	if _, ok := f.functions[name]; ok {
		return nil, APIError("ResourceConflictException", "Function already exist: %s", name)
	}
	sum, size, err := f.codeSHA(in.Code.ZipFile, in.Code.S3Bucket, in.Code.S3Key)
	if err != nil {
		return nil, err
	}
	f.version++
	cfg := types.FunctionConfiguration{
		FunctionName:     in.FunctionName,
		FunctionArn:      aws.String(fmt.Sprintf("arn:aws:lambda:%s:%s:function:%s", f.region, f.account, name)),
		Description:      in.Description,
		Role:             in.Role,
		Handler:          in.Handler,
		Runtime:          in.Runtime,
		Architectures:    in.Architectures,
		Timeout:          in.Timeout,
		MemorySize:       in.MemorySize,
		CodeSha256:       aws.String(sum),
		CodeSize:         size,
		Version:          aws.String("$LATEST"),
		LastModified:     aws.String(fmt.Sprintf("2024-01-01T00:00:%02d.000+0000", f.version)),
		State:            types.StateActive,
		LastUpdateStatus: types.LastUpdateStatusSuccessful,
		PackageType:      types.PackageTypeZip,
	}
	if in.Environment != nil {
		cfg.Environment = &types.EnvironmentResponse{Variables: in.Environment.Variables}
	}
	tags := map[string]string{}
	for k, v := range in.Tags {
		tags[k] = v
	}
	f.functions[name] = &function{config: cfg, tags: tags}
	return &lambda.CreateFunctionOutput{FunctionArn: cfg.FunctionArn, Version: cfg.Version, State: cfg.State}, nil
}

func (f *Lambda) UpdateFunctionCode(_ context.Context, in *lambda.UpdateFunctionCodeInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error) {
	if err := f.log.mutate("UpdateFunctionCode"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, err := f.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	sum, size, err := f.codeSHA(in.ZipFile, in.S3Bucket, in.S3Key)
	if err != nil {
		return nil, err
	}
	fn.config.CodeSha256 = aws.String(sum)
	fn.config.CodeSize = size
	if len(in.Architectures) > 0 {
		fn.config.Architectures = in.Architectures
	}
	return &lambda.UpdateFunctionCodeOutput{FunctionArn: fn.config.FunctionArn, CodeSha256: fn.config.CodeSha256}, nil
}

func (f *Lambda) UpdateFunctionConfiguration(_ context.Context, in *lambda.UpdateFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error) {
	if err := f.log.mutate("UpdateFunctionConfiguration"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, err := f.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	c := &fn.config
	if in.Description != nil {
		c.Description = in.Description
	}
	if in.Role != nil {
		c.Role = in.Role
	}
	if in.Handler != nil {
		c.Handler = in.Handler
	}
	if in.Runtime != "" {
		c.Runtime = in.Runtime
	}
	if in.Timeout != nil {
		c.Timeout = in.Timeout
	}
	if in.MemorySize != nil {
		c.MemorySize = in.MemorySize
	}
	if in.Environment != nil {
		c.Environment = &types.EnvironmentResponse{Variables: in.Environment.Variables}
	}
	return &lambda.UpdateFunctionConfigurationOutput{FunctionArn: c.FunctionArn}, nil
}

func (f *Lambda) TagResource(_ context.Context, in *lambda.TagResourceInput, _ ...func(*lambda.Options)) (*lambda.TagResourceOutput, error) {
	if err := f.log.mutate("TagResource"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, fn := range f.functions {
		if aws.ToString(fn.config.FunctionArn) == aws.ToString(in.Resource) {
			for k, v := range in.Tags {
				fn.tags[k] = v
			}
			return &lambda.TagResourceOutput{}, nil
		}
	}
	return nil, APIError("ResourceNotFoundException", "resource not found")
}

func (f *Lambda) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	if err := f.log.read("Invoke"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, err := f.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	if fn.concurrency != nil && *fn.concurrency == 0 {
		return nil, APIError("TooManyRequestsException", "Rate Exceeded.")
	}
	f.Invocations = append(f.Invocations, in.Payload)
	out := &lambda.InvokeOutput{
		StatusCode: 200,
		Payload:    f.InvokePayload,
		LogResult:  aws.String(base64.StdEncoding.EncodeToString([]byte("START RequestId: fake\nEND RequestId: fake\n"))),
	}
	if f.FunctionError != "" {
		out.FunctionError = aws.String(f.FunctionError)
	}
	return out, nil
}

func (f *Lambda) GetFunctionConcurrency(_ context.Context, in *lambda.GetFunctionConcurrencyInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionConcurrencyOutput, error) {
	if err := f.log.read("GetFunctionConcurrency"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, err := f.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	return &lambda.GetFunctionConcurrencyOutput{ReservedConcurrentExecutions: fn.concurrency}, nil
}

func (f *Lambda) PutFunctionConcurrency(_ context.Context, in *lambda.PutFunctionConcurrencyInput, _ ...func(*lambda.Options)) (*lambda.PutFunctionConcurrencyOutput, error) {
	if err := f.log.mutate("PutFunctionConcurrency"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, err := f.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	fn.concurrency = aws.Int32(aws.ToInt32(in.ReservedConcurrentExecutions))
	return &lambda.PutFunctionConcurrencyOutput{ReservedConcurrentExecutions: fn.concurrency}, nil
}

func (f *Lambda) DeleteFunctionConcurrency(_ context.Context, in *lambda.DeleteFunctionConcurrencyInput, _ ...func(*lambda.Options)) (*lambda.DeleteFunctionConcurrencyOutput, error) {
	if err := f.log.mutate("DeleteFunctionConcurrency"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fn, err := f.lookup(in.FunctionName)
	if err != nil {
		return nil, err
	}
	fn.concurrency = nil
	return &lambda.DeleteFunctionConcurrencyOutput{}, nil
}
