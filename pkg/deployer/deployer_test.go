package deployer_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	budgettypes "github.com/aws/aws-sdk-go-v2/service/budgets/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	schedulertypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/connector"
	"github.com/primait/lambda-deploy/pkg/connector/fakeaws"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/awserr"
	"github.com/primait/lambda-deploy/pkg/deployer"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/localtest"
	"github.com/primait/lambda-deploy/pkg/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	account = "123456789012"
	region  = "eu-west-1"
)

func apis(cloud *fakeaws.Cloud) connector.APIs {
	return connector.APIs{
		STS:          cloud.STS,
		EC2:          cloud.EC2,
		IAM:          cloud.IAM,
		Analyzer:     cloud.Analyzer,
		Lambda:       cloud.Lambda,
		Scheduler:    cloud.Scheduler,
		Budgets:      cloud.Budgets,
		SNS:          cloud.SNS,
		SSM:          cloud.SSM,
		Logs:         cloud.Logs,
		S3:           cloud.S3,
		CostExplorer: cloud.CostExplorer,
	}
}

func connect(cloud *fakeaws.Cloud, dryRun bool) *connector.CloudConnector {
	cc := connector.NewCloudConnectorWithAPIs(apis(cloud), plan.NewRecorder(dryRun, logging.New(io.Discard)))
	cc.IAM.Propagation = 0
	return cc
}

func testSpec(t *testing.T) *config.DeploymentSpec {
	t.Helper()
	root := t.TempDir()
	for name, body := range map[string]string{
		"lambda_function.py": "def lambda_handler(event, context):\n    return {'statusCode': 200}\n",
		"requirements.txt":   "requests\n",
		"README.md":          "# fn\n",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	return &config.DeploymentSpec{
		FunctionName:       "fn",
		Handler:            "lambda_function.lambda_handler",
		SourceDir:          root,
		OutputDir:          filepath.Join(root, "dist"),
		PackageName:        "lambda-package.zip",
		Region:             region,
		Runtime:            "python3.12",
		Architecture:       "x86_64",
		Timeout:            30,
		MemorySize:         128,
		RoleName:           "fn-execution-role",
		ScheduleName:       "fn-schedule",
		ScheduleExpression: "cron(0 8 * * ? *)",
		ScheduleTimezone:   "Europe/Rome",
		BudgetEnabled:      true,
		BudgetName:         "fn-budget",
		BudgetLimit:        1,
		BudgetEmail:        "ops@example.com",
		RequiredEnv:        []string{"APP_MODE"},
		SecureParameters:   []config.SecureParameter{{EnvName: "DB_PASSWORD", Path: "/fn/db-password"}},
		LogRetentionDays:   14,
		Tags:               map[string]string{"ManagedBy": "lambda-deploy", "Function": "fn"},
		LocalAssert:        ".statusCode == 200",
		MaxAttempts:        3,
	}
}

func newDeployer(spec *config.DeploymentSpec, opts deployer.Options, cc *connector.CloudConnector, environ map[string]string) *deployer.Deployer {
	d := deployer.New(spec, opts, cc, logging.New(io.Discard))
	d.SetEnviron(environ)
	return d
}

func processEnv() map[string]string {
	return map[string]string{"APP_MODE": "prod", "DB_PASSWORD": "s3cret", "HOME": "/root"}
}

var remoteOnly = deployer.Options{SkipTest: true}

func TestDeployCreatesEverything(t *testing.T) {
	cloud := fakeaws.New(account, region)
	spec := testSpec(t)
	ctx := context.Background()

	summary, err := newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Deploy(ctx)
	require.NoError(t, err)
	assert.Equal(t, "user/deployer", summary.Resources.Caller)

	fn := cloud.Lambda.Function("fn")
	require.NotNil(t, fn)
	assert.Equal(t, map[string]string{"APP_MODE": "prod", "DB_PASSWORD_PARAMETER": "/fn/db-password"}, fn.Environment.Variables)
	assert.Equal(t, "arn:aws:iam::123456789012:role/fn-execution-role", aws.ToString(fn.Role))
	assert.Contains(t, cloud.IAM.Attached("fn-execution-role"), "arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole")
	assert.NotEmpty(t, cloud.IAM.InlinePolicy("fn-execution-role", "fn-ssm-read"))
	assert.NotEmpty(t, cloud.IAM.InlinePolicy("fn-scheduler-role", "fn-invoke"))
	assert.True(t, cloud.IAM.HasRole("fn-budget-action-role"))

	value, version := cloud.SSM.Parameter("/fn/db-password")
	assert.Equal(t, "s3cret", value)
	assert.Equal(t, int64(1), version)

	schedule := cloud.Scheduler.Schedule("default", "fn-schedule")
	require.NotNil(t, schedule)
	assert.Equal(t, schedulertypes.ScheduleStateEnabled, schedule.State)
	assert.Equal(t, "Europe/Rome", aws.ToString(schedule.ScheduleExpressionTimezone))
	assert.Equal(t, "arn:aws:lambda:eu-west-1:123456789012:function:fn", aws.ToString(schedule.Target.Arn))

	require.NotNil(t, cloud.Budgets.Budget("fn-budget"))
	require.Len(t, cloud.Budgets.Actions("fn-budget"), 1)
	assert.Equal(t, int32(14), aws.ToInt32(cloud.Logs.Retention("/aws/lambda/fn")))
	assert.Len(t, cloud.Lambda.Invocations, 1)

	for _, s := range summary.Steps {
		if s.Name != "Local Test" {
			assert.Equal(t, deployer.StatusDone, s.Status, s.Name)
		}
	}
	assert.Equal(t, deployer.StatusSkipped, summary.Step("Local Test").Status)
	require.NotNil(t, summary.SmokeTest)
	assert.True(t, summary.SmokeTest.Passed)
	assert.True(t, summary.Function.Created)
	assert.True(t, summary.Budget.KillSwitch)
	assert.NotZero(t, summary.Mutations())
	assert.NotContains(t, string(logging.PrettyJSON(summary.Calls)), "s3cret")

	t.Run("second run is a no-op", func(t *testing.T) {
		cloud.Reset()
		summary, err := newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Deploy(ctx)
		require.NoError(t, err)
		assert.Empty(t, cloud.Mutations())
		assert.Zero(t, summary.Mutations())
		assert.False(t, summary.Function.Changed())
	})

	t.Run("rotated secret only touches the parameter", func(t *testing.T) {
		cloud.Reset()
		environ := processEnv()
		environ["DB_PASSWORD"] = "rotated"
		_, err := newDeployer(spec, remoteOnly, connect(cloud, false), environ).Deploy(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"PutParameter"}, cloud.Mutations())
	})
}

func TestDeployDryRun(t *testing.T) {
	cloud := fakeaws.New(account, region)
	spec := testSpec(t)

	summary, err := newDeployer(spec, remoteOnly, connect(cloud, true), processEnv()).Deploy(context.Background())
	require.NoError(t, err)

	assert.Empty(t, cloud.Mutations())
	assert.Nil(t, cloud.Lambda.Function("fn"))
	assert.Empty(t, cloud.Lambda.Invocations)
	assert.True(t, summary.DryRun)

	ops := map[string]bool{}
	for _, c := range summary.Calls {
		assert.False(t, c.Applied)
		ops[c.Operation] = true
	}
	for _, op := range []string{"CreateTopic", "CreateBudget", "CreatePolicy", "CreateBudgetAction", "CreateRole", "PutParameter", "CreateFunction", "CreateLogGroup", "CreateSchedule"} {
		assert.True(t, ops[op], op)
	}
	assert.NotContains(t, string(logging.PrettyJSON(summary.Calls)), "s3cret")
}

func TestDeployDryRunWithoutCredentials(t *testing.T) {
	noCredentials := errors.New("failed to retrieve credentials: no EC2 IMDS role found")
	reads := []string{
		"GetCallerIdentity", "DescribeRegions", "ValidatePolicy", "GetRole", "GetRolePolicy", "ListAttachedRolePolicies",
		"GetPolicy", "GetFunction", "GetSchedule", "DescribeBudget", "DescribeBudgetActionsForBudget",
		"DescribeNotificationsForBudget", "GetTopicAttributes", "ListSubscriptionsByTopic", "GetParameter",
		"DescribeLogGroups", "GetCostAndUsage",
	}

	t.Run("dry run plans everything as new", func(t *testing.T) {
		cloud := fakeaws.New(account, region)
		for _, op := range reads {
			cloud.Fail[op] = noCredentials
		}
		summary, err := newDeployer(testSpec(t), remoteOnly, connect(cloud, true), processEnv()).Deploy(context.Background())
		require.NoError(t, err)

		ops := map[string]bool{}
		for _, c := range summary.Calls {
			ops[c.Operation] = true
		}
		for _, op := range []string{"CreateTopic", "CreateBudget", "CreateRole", "CreateFunction", "CreateLogGroup", "CreateSchedule"} {
			assert.True(t, ops[op], op)
		}
		assert.False(t, ops["UpdateFunctionConfiguration"])
		assert.Empty(t, cloud.Mutations())
	})

	t.Run("real run fails", func(t *testing.T) {
		cloud := fakeaws.New(account, region)
		cloud.Fail["GetTopicAttributes"] = noCredentials
		_, err := newDeployer(testSpec(t), remoteOnly, connect(cloud, false), processEnv()).Deploy(context.Background())
		require.ErrorIs(t, err, noCredentials)
		assert.Empty(t, cloud.Mutations())
	})

	t.Run("API errors still fail a dry run", func(t *testing.T) {
		cloud := fakeaws.New(account, region)
		cloud.Fail["GetFunction"] = fakeaws.APIError("AccessDeniedException", "not authorized to perform lambda:GetFunction")
		_, err := newDeployer(testSpec(t), remoteOnly, connect(cloud, true), processEnv()).Deploy(context.Background())
		require.Error(t, err)
		assert.Equal(t, "AccessDeniedException", awserr.Code(err))
	})
}

func TestDeployStepFailure(t *testing.T) {
	cloud := fakeaws.New(account, region)
	cloud.Fail["CreateFunction"] = fakeaws.APIError("AccessDeniedException", "not authorized to perform lambda:CreateFunction")

	summary, err := newDeployer(testSpec(t), remoteOnly, connect(cloud, false), processEnv()).Deploy(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `step "Lambda Deployment"`)
	assert.Equal(t, "AccessDeniedException", awserr.Code(err))
	assert.Equal(t, deployer.StatusFailed, summary.Step("Lambda Deployment").Status)
	assert.Nil(t, summary.Step("Schedule Setup"))
	assert.Nil(t, cloud.Scheduler.Schedule("default", "fn-schedule"))
}

func TestDeployMissingEnvironment(t *testing.T) {
	cloud := fakeaws.New(account, region)
	environ := processEnv()
	delete(environ, "APP_MODE")
	delete(environ, "DB_PASSWORD")

	_, err := newDeployer(testSpec(t), remoteOnly, connect(cloud, false), environ).Deploy(context.Background())
	require.ErrorIs(t, err, config.ErrMissingEnv)
	assert.Contains(t, err.Error(), `step "Validation"`)
	assert.Contains(t, err.Error(), "APP_MODE")
	assert.Contains(t, err.Error(), "DB_PASSWORD")
	assert.Empty(t, cloud.Mutations())
}

func TestDeploySmokeTestFailure(t *testing.T) {
	cloud := fakeaws.New(account, region)
	cloud.Lambda.InvokePayload = []byte(`{"errorType":"KeyError","errorMessage":"'user'"}`)
	cloud.Lambda.FunctionError = "Unhandled"

	summary, err := newDeployer(testSpec(t), remoteOnly, connect(cloud, false), processEnv()).Deploy(context.Background())
	require.ErrorIs(t, err, localtest.ErrAssertion)
	assert.Equal(t, "Unhandled", summary.SmokeTest.Error)
	assert.NotNil(t, cloud.Lambda.Function("fn"))
}

func TestDeployWithoutScheduleAndBudget(t *testing.T) {
	cloud := fakeaws.New(account, region)
	spec := testSpec(t)
	spec.ScheduleExpression = config.ScheduleDisabled
	spec.BudgetEnabled = false

	summary, err := newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Deploy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, deployer.StatusSkipped, summary.Step("Schedule Setup").Status)
	assert.Equal(t, deployer.StatusSkipped, summary.Step("Budget Setup").Status)
	assert.Equal(t, deployer.StatusSkipped, summary.Step("Kill Switch Setup").Status)
	assert.False(t, cloud.IAM.HasRole("fn-scheduler-role"))
	assert.Nil(t, cloud.Budgets.Budget("fn-budget"))
	assert.Zero(t, cloud.Count("GetCostAndUsage"))
}

func TestBuildOnly(t *testing.T) {
	spec := testSpec(t)
	summary, err := newDeployer(spec, deployer.Options{BuildOnly: true}, nil, processEnv()).Deploy(context.Background())
	require.NoError(t, err)

	require.NotNil(t, summary.Package)
	assert.FileExists(t, summary.Package.Path)
	assert.Equal(t, []string{"README.md", "lambda_function.py", "requirements.txt"}, summary.Package.Files)
	assert.Equal(t, deployer.StatusDone, summary.Step("Build Package").Status)
	assert.Equal(t, deployer.StatusSkipped, summary.Step("Local Test").Status)
	assert.Equal(t, deployer.StatusSkipped, summary.Step("Lambda Deployment").Status)
	assert.Equal(t, config.PlaceholderAccount, summary.Resources.AccountID)
}

func TestRemoteStepsNeedCloud(t *testing.T) {
	_, err := newDeployer(testSpec(t), remoteOnly, nil, processEnv()).Deploy(context.Background())
	require.ErrorIs(t, err, deployer.ErrNoCloud)
}

func TestLocalTestAgainstEmulator(t *testing.T) {
	events := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		events <- body
		_, _ = w.Write([]byte(`{"statusCode":200,"body":"ok"}`))
	}))
	defer srv.Close()

	spec := testSpec(t)
	spec.LocalEndpoint = srv.URL
	summary, err := newDeployer(spec, deployer.Options{LocalTest: true}, nil, processEnv()).Deploy(context.Background())
	require.NoError(t, err)

	require.NotNil(t, summary.LocalTest)
	assert.True(t, summary.LocalTest.Passed)
	assert.Contains(t, string(<-events), `"source":"aws.scheduler"`)
	assert.Equal(t, deployer.StatusSkipped, summary.Step("IAM Setup").Status)
}

func TestDisableAndEnable(t *testing.T) {
	cloud := fakeaws.New(account, region)
	spec := testSpec(t)
	ctx := context.Background()
	_, err := newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Deploy(ctx)
	require.NoError(t, err)

	require.NoError(t, newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Disable(ctx, "testing"))
	assert.Equal(t, int32(0), aws.ToInt32(cloud.Lambda.Concurrency("fn")))
	assert.Equal(t, schedulertypes.ScheduleStateDisabled, cloud.Scheduler.Schedule("default", "fn-schedule").State)
	require.Len(t, cloud.SNS.Published("arn:aws:sns:eu-west-1:123456789012:fn-budget-alerts"), 1)

	// the budget fires its action on top of the manual disable
	cloud.Budgets.SetActionStatus("fn-budget", budgettypes.ActionStatusExecutionSuccess)
	_, err = cloud.IAM.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String("fn-scheduler-role"),
		PolicyArn: aws.String("arn:aws:iam::123456789012:policy/fn-kill-switch"),
	})
	require.NoError(t, err)

	require.NoError(t, newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Enable(ctx))
	assert.Nil(t, cloud.Lambda.Concurrency("fn"))
	assert.Equal(t, schedulertypes.ScheduleStateEnabled, cloud.Scheduler.Schedule("default", "fn-schedule").State)
	assert.Equal(t, budgettypes.ActionStatusReverseSuccess, cloud.Budgets.Actions("fn-budget")[0].Status)
	assert.NotContains(t, cloud.IAM.Attached("fn-scheduler-role"), "arn:aws:iam::123456789012:policy/fn-kill-switch")

	t.Run("enable twice changes nothing", func(t *testing.T) {
		cloud.Reset()
		require.NoError(t, newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Enable(ctx))
		assert.Equal(t, []string{"DeleteFunctionConcurrency"}, cloud.Mutations())
	})
}

func TestStatus(t *testing.T) {
	cloud := fakeaws.New(account, region)
	spec := testSpec(t)
	ctx := context.Background()

	before, err := newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Status(ctx)
	require.NoError(t, err)
	assert.False(t, before.Function.Deployed)
	assert.False(t, before.Schedule.Exists)
	assert.False(t, before.Budget.Exists)
	assert.False(t, before.LogGroup.Exists)

	_, err = newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Deploy(ctx)
	require.NoError(t, err)
	cloud.CostExplorer.Costs["AWS Lambda"] = "0.42"
	cloud.Reset()

	status, err := newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, cloud.Mutations())
	assert.True(t, status.Function.Deployed)
	assert.Equal(t, 2, status.Function.Variables)
	assert.False(t, status.Function.Throttled)
	assert.Equal(t, string(schedulertypes.ScheduleStateEnabled), status.Schedule.State)
	assert.True(t, status.Budget.Exists)
	assert.False(t, status.Budget.Fired())
	assert.Equal(t, int32(14), status.LogGroup.RetentionDays)
	require.Len(t, status.Costs, 2)
	assert.Equal(t, "AWS Lambda", status.Costs[0].Service)
	assert.InDelta(t, 0.42, status.Costs[0].Amount, 0.001)
	assert.Empty(t, status.Warnings)

	t.Run("cost lookup failures are warnings", func(t *testing.T) {
		cloud.Fail["GetCostAndUsage"] = fakeaws.APIError("AccessDeniedException", "ce:GetCostAndUsage")
		defer delete(cloud.Fail, "GetCostAndUsage")
		status, err := newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Status(ctx)
		require.NoError(t, err)
		require.Len(t, status.Warnings, 1)
		assert.Contains(t, status.Warnings[0], "costs:")
	})
}

func TestCleanEnv(t *testing.T) {
	cloud := fakeaws.New(account, region)
	spec := testSpec(t)
	ctx := context.Background()
	_, err := newDeployer(spec, remoteOnly, connect(cloud, false), processEnv()).Deploy(ctx)
	require.NoError(t, err)

	spec.RequiredEnv = nil
	spec.EnvPrefixes = []string{"APP_"}
	environ := processEnv()
	environ["APP_MODE"] = "staging"

	changed, err := newDeployer(spec, remoteOnly, connect(cloud, false), environ).CleanEnv(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "staging", cloud.Lambda.Function("fn").Environment.Variables["APP_MODE"])

	changed, err = newDeployer(spec, remoteOnly, connect(cloud, false), environ).CleanEnv(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}
