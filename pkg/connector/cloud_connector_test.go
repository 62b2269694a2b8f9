package connector_test

import (
	"context"
	"io"
	"testing"

	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/connector"
	"github.com/primait/lambda-deploy/pkg/connector/fakeaws"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResources(t *testing.T) {
	cloud := fakeaws.New("123456789012", "eu-west-1")
	cc := connector.NewCloudConnectorWithAPIs(apis(cloud), plan.NewRecorder(false, logging.New(io.Discard)))
	spec := &config.DeploymentSpec{FunctionName: "fn", RoleName: "fn-execution-role", ScheduleName: "fn-schedule", Region: "eu-west-1"}

	res, err := cc.Resources(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "123456789012", res.AccountID)
	assert.Equal(t, "arn:aws:lambda:eu-west-1:123456789012:function:fn", res.FunctionARN)
	assert.Equal(t, "aws", res.Partition)
	assert.Equal(t, "user/deployer", res.Caller)
}

func TestIdentityFallback(t *testing.T) {
	cloud := fakeaws.New("123456789012", "eu-west-1")
	cloud.Fail["GetCallerIdentity"] = fakeaws.APIError("ExpiredToken", "The security token included in the request is expired")

	live := connector.NewCloudConnectorWithAPIs(apis(cloud), plan.NewRecorder(false, logging.New(io.Discard)))
	_, err := live.Identity(context.Background())
	require.Error(t, err)

	dry := connector.NewCloudConnectorWithAPIs(apis(cloud), plan.NewRecorder(true, logging.New(io.Discard)))
	identity, err := dry.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, config.PlaceholderAccount, identity.Account)
}

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
