package iam

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aat "github.com/aws/aws-sdk-go-v2/service/accessanalyzer/types"
	"github.com/primait/lambda-deploy/pkg/connector/fakeaws"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const account = "123456789012"

func newClient(cloud *fakeaws.Cloud, dryRun bool) (*IAMClient, *[]time.Duration) {
	slept := &[]time.Duration{}
	c := NewIAMClientWithAPI(cloud.IAM, cloud.Analyzer, plan.NewRecorder(dryRun, logging.New(io.Discard)))
	c.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return c, slept
}

func executionRole() RoleSpec {
	return RoleSpec{
		Name:            "fn-execution-role",
		Description:     "Execution role for fn",
		Trust:           LambdaTrustPolicy(),
		ManagedPolicies: []string{AWSManagedPolicyARN("aws", LambdaBasicExecutionPolicy)},
		InlinePolicies: map[string]PolicyDocument{
			"ssm-read": SSMReadPolicy("eu-west-1", []string{"arn:aws:ssm:eu-west-1:123456789012:parameter/fn/token"}),
		},
		Tags: map[string]string{"ManagedBy": "lambda-deploy"},
	}
}

func TestEnsureRoleCreatesThenIsIdempotent(t *testing.T) {
	cloud := fakeaws.New(account, "eu-west-1")
	client, slept := newClient(cloud, false)
	ctx := context.Background()

	result, err := client.EnsureRole(ctx, executionRole())
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "arn:aws:iam::123456789012:role/fn-execution-role", result.ARN)
	assert.Equal(t, []time.Duration{PropagationDelay}, *slept)
	assert.Equal(t, []string{"arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"}, cloud.IAM.Attached("fn-execution-role"))
	assert.NotEmpty(t, cloud.IAM.InlinePolicy("fn-execution-role", "ssm-read"))

	cloud.Reset()
	result, err = client.EnsureRole(ctx, executionRole())
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.False(t, result.Changed)
	assert.Empty(t, cloud.Mutations())
	assert.Len(t, *slept, 1)
}

func TestEnsureRoleRepairsDrift(t *testing.T) {
	cloud := fakeaws.New(account, "eu-west-1")
	client, _ := newClient(cloud, false)
	ctx := context.Background()
	_, err := client.EnsureRole(ctx, executionRole())
	require.NoError(t, err)

	spec := executionRole()
	spec.Trust = SchedulerTrustPolicy(account)
	spec.Tags["Team"] = "data"
	spec.InlinePolicies["ssm-read"] = SSMReadPolicy("eu-west-1", []string{"arn:aws:ssm:eu-west-1:123456789012:parameter/fn/other"})

	cloud.Reset()
	result, err := client.EnsureRole(ctx, spec)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.ElementsMatch(t, []string{"UpdateAssumeRolePolicy", "TagRole", "PutRolePolicy"}, cloud.Mutations())
}

func TestEnsureRoleDryRun(t *testing.T) {
	cloud := fakeaws.New(account, "eu-west-1")
	client, slept := newClient(cloud, true)

	result, err := client.EnsureRole(context.Background(), executionRole())
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Empty(t, cloud.Mutations())
	assert.Empty(t, *slept)
	assert.False(t, cloud.IAM.HasRole("fn-execution-role"))

	var ops []string
	for _, c := range client.recorder.Calls() {
		ops = append(ops, c.Operation)
		assert.False(t, c.Applied)
	}
	assert.Equal(t, []string{"CreateRole", "AttachRolePolicy", "PutRolePolicy"}, ops)
}

func TestValidatePolicyErrorFindings(t *testing.T) {
	cloud := fakeaws.New(account, "eu-west-1")
	client, _ := newClient(cloud, false)
	client.Validate = true

	cloud.Analyzer.Findings = []aat.ValidatePolicyFinding{{
		FindingType: aat.ValidatePolicyFindingTypeSuggestion,
		IssueCode:   aws.String("EMPTY_ARRAY_ACTION"),
	}}
	require.NoError(t, client.ValidatePolicy(context.Background(), "ok", InvokePolicy("arn:aws:lambda:eu-west-1:1:function:fn")))

	cloud.Analyzer.Findings = append(cloud.Analyzer.Findings, aat.ValidatePolicyFinding{
		FindingType:    aat.ValidatePolicyFindingTypeError,
		IssueCode:      aws.String("INVALID_ARN_RESOURCE"),
		FindingDetails: aws.String("bad arn"),
	})
	_, err := client.EnsureRole(context.Background(), executionRole())
	require.ErrorIs(t, err, ErrPolicyFindings)
	assert.Contains(t, err.Error(), "INVALID_ARN_RESOURCE")
	assert.Empty(t, cloud.Mutations())
}

func TestEnsureManagedPolicyVersions(t *testing.T) {
	cloud := fakeaws.New(account, "eu-west-1")
	client, _ := newClient(cloud, false)
	ctx := context.Background()
	spec := ManagedPolicySpec{
		Name:     "fn-kill-switch",
		ARN:      "arn:aws:iam::123456789012:policy/fn-kill-switch",
		Document: KillSwitchPolicy("arn:aws:lambda:eu-west-1:123456789012:function:fn"),
	}

	changed, err := client.EnsureManagedPolicy(ctx, spec)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = client.EnsureManagedPolicy(ctx, spec)
	require.NoError(t, err)
	assert.False(t, changed)

	for i, fn := range []string{"a", "b", "c", "d", "e", "f"} {
		spec.Document = KillSwitchPolicy("arn:aws:lambda:eu-west-1:123456789012:function:" + fn)
		changed, err = client.EnsureManagedPolicy(ctx, spec)
		require.NoError(t, err, "update %d", i)
		assert.True(t, changed)
	}
	assert.GreaterOrEqual(t, cloud.Count("DeletePolicyVersion"), 2)
}

func TestAttachDetachRolePolicy(t *testing.T) {
	cloud := fakeaws.New(account, "eu-west-1")
	client, _ := newClient(cloud, false)
	ctx := context.Background()
	_, err := client.EnsureRole(ctx, RoleSpec{Name: "fn-scheduler-role", Trust: SchedulerTrustPolicy(account)})
	require.NoError(t, err)
	arn := "arn:aws:iam::123456789012:policy/fn-kill-switch"

	attached, err := client.AttachRolePolicy(ctx, "fn-scheduler-role", arn)
	require.NoError(t, err)
	assert.True(t, attached)
	attached, err = client.AttachRolePolicy(ctx, "fn-scheduler-role", arn)
	require.NoError(t, err)
	assert.False(t, attached)

	detached, err := client.DetachRolePolicy(ctx, "fn-scheduler-role", arn)
	require.NoError(t, err)
	assert.True(t, detached)
	detached, err = client.DetachRolePolicy(ctx, "fn-scheduler-role", arn)
	require.NoError(t, err)
	assert.False(t, detached)
}
