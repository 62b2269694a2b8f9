package fakeaws

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type parameter struct {
	value   string
	kind    ssmtypes.ParameterType
	version int64
}

type SSM struct {
	log *Log

	mu         sync.Mutex
	parameters map[string]parameter
}

// Parameter returns a stored value and its version.
func (f *SSM) Parameter(name string) (string, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.parameters[name]
	return p.value, p.version
}

func (f *SSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if err := f.log.read("GetParameter"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parameters[aws.ToString(in.Name)]
	if !ok {
		return nil, APIError("ParameterNotFound", "")
	}
	value := p.value
	if p.kind == ssmtypes.ParameterTypeSecureString && !aws.ToBool(in.WithDecryption) {
		value = "encrypted:" + value
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{
		Name: in.Name, Value: aws.String(value), Type: p.kind, Version: p.version,
	}}, nil
}

func (f *SSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if err := f.log.mutate("PutParameter"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.Name)
	p, exists := f.parameters[name]
	if exists && !aws.ToBool(in.Overwrite) {
		return nil, APIError("ParameterAlreadyExists", "")
	}
	p = parameter{value: aws.ToString(in.Value), kind: in.Type, version: p.version + 1}
	f.parameters[name] = p
	return &ssm.PutParameterOutput{Version: p.version}, nil
}

type logGroup struct {
	retention *int32
	tags      map[string]string
}

type Logs struct {
	log *Log

	mu     sync.Mutex
	groups map[string]*logGroup
	// HideNewGroups makes PutRetentionPolicy fail that many times after a create.
	HideNewGroups int
	hidden        int
}

// Retention returns the retention of a group, nil when unset or missing.
func (f *Logs) Retention(name string) *int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[name]; ok {
		return g.retention
	}
	return nil
}

func (f *Logs) DescribeLogGroups(_ context.Context, in *cloudwatchlogs.DescribeLogGroupsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	if err := f.log.read("DescribeLogGroups"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &cloudwatchlogs.DescribeLogGroupsOutput{}
	prefix := aws.ToString(in.LogGroupNamePrefix)
	for _, name := range sortedKeys(f.groups) {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out.LogGroups = append(out.LogGroups, cwtypes.LogGroup{LogGroupName: aws.String(name), RetentionInDays: f.groups[name].retention})
		}
	}
	return out, nil
}

func (f *Logs) CreateLogGroup(_ context.Context, in *cloudwatchlogs.CreateLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	if err := f.log.mutate("CreateLogGroup"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.LogGroupName)
	if _, ok := f.groups[name]; ok {
		return nil, APIError("ResourceAlreadyExistsException", "The specified log group already exists")
	}
	f.groups[name] = &logGroup{tags: in.Tags}
	f.hidden = f.HideNewGroups
	return &cloudwatchlogs.CreateLogGroupOutput{}, nil
}

func (f *Logs) PutRetentionPolicy(_ context.Context, in *cloudwatchlogs.PutRetentionPolicyInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error) {
	if err := f.log.mutate("PutRetentionPolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[aws.ToString(in.LogGroupName)]
	if !ok || f.hidden > 0 {
		f.hidden--
		return nil, APIError("ResourceNotFoundException", "The specified log group does not exist.")
	}
	g.retention = in.RetentionInDays
	return &cloudwatchlogs.PutRetentionPolicyOutput{}, nil
}

type object struct {
	data     []byte
	metadata map[string]string
}

type S3 struct {
	log *Log

	mu      sync.Mutex
	objects map[string]object
}

// Object returns the content of an uploaded object.
func (f *S3) Object(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[bucket+"/"+key]
	return o.data, ok
}

func (f *S3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if err := f.log.read("HeadObject"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, APIError("NotFound", "Not Found")
	}
	return &s3.HeadObjectOutput{Metadata: o.metadata, ContentLength: aws.Int64(int64(len(o.data)))}, nil
}

func (f *S3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := f.log.mutate("PutObject"); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = object{data: data, metadata: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

// CostExplorer answers with Costs, a month-to-date amount per service.
type CostExplorer struct {
	log   *Log
	Costs map[string]string
	Input *costexplorer.GetCostAndUsageInput
}

func (f *CostExplorer) GetCostAndUsage(_ context.Context, in *costexplorer.GetCostAndUsageInput, _ ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
	if err := f.log.read("GetCostAndUsage"); err != nil {
		return nil, err
	}
	f.Input = in
	result := cetypes.ResultByTime{TimePeriod: in.TimePeriod}
	for _, service := range sortedKeys(f.Costs) {
		result.Groups = append(result.Groups, cetypes.Group{
			Keys: []string{service},
			Metrics: map[string]cetypes.MetricValue{
				"UnblendedCost": {Amount: aws.String(f.Costs[service]), Unit: aws.String("USD")},
			},
		})
	}
	return &costexplorer.GetCostAndUsageOutput{ResultsByTime: []cetypes.ResultByTime{result}}, nil
}
