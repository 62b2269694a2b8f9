package connector

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/primait/lambda-deploy/pkg/connector/services/aws"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/budgets"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/costexplorer"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/ec2"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/iam"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/lambda"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/logs"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/s3"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/scheduler"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/sns"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/ssm"
	"github.com/primait/lambda-deploy/pkg/connector/services/aws/sts"
	"github.com/primait/lambda-deploy/pkg/config"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
)

var ErrNoCredentials = errors.New("invalid credentials or expired session")

// NewCloudConnector loads the AWS configuration and builds every service client.
// Broken credentials are fatal, except in dry-run where reads fall back to
// "resource absent" and the plan is still printed.
func NewCloudConnector(ctx context.Context, opts awsconfig.Options, recorder *plan.Recorder) (*CloudConnector, error) {
	cfg, err := awsconfig.InitAWSConfiguration(ctx, opts)
	if err != nil {
		return nil, err
	}
	logger := logging.GetLogManager()
	if err := cfg.TestConnection(ctx); err != nil {
		if !recorder.DryRun() {
			return nil, fmt.Errorf("%w: %v", ErrNoCredentials, err)
		}
		logger.Warn("No usable AWS credentials, the plan assumes nothing exists yet", logging.ErrorFields(err)...)
	}

	global := cfg.Global()
	return &CloudConnector{
		AWSConfig:    cfg,
		Recorder:     recorder,
		STS:          sts.NewSTSClient(cfg.Config),
		EC2:          ec2.NewEC2Client(cfg.Config),
		IAM:          iam.NewIAMClient(cfg.Config, recorder),
		Lambda:       lambda.NewLambdaClient(cfg.Config, recorder),
		Scheduler:    scheduler.NewSchedulerClient(cfg.Config, recorder),
		Budgets:      budgets.NewBudgetsClient(global, recorder),
		SNS:          sns.NewSNSClient(cfg.Config, recorder),
		SSM:          ssm.NewSSMClient(cfg.Config, recorder),
		Logs:         logs.NewLogsClient(cfg.Config, recorder),
		S3:           s3.NewS3Client(cfg.Config, recorder, cfg.EndpointURL != ""),
		CostExplorer: costexplorer.NewCostExplorerClient(global),
		logger:       logger,
	}, nil
}

// NewCloudConnectorWithAPIs builds a connector around already constructed service APIs.
func NewCloudConnectorWithAPIs(apis APIs, recorder *plan.Recorder) *CloudConnector {
	return &CloudConnector{
		Recorder:     recorder,
		STS:          sts.NewSTSClientWithAPI(apis.STS),
		EC2:          ec2.NewEC2ClientWithAPI(apis.EC2),
		IAM:          iam.NewIAMClientWithAPI(apis.IAM, apis.Analyzer, recorder),
		Lambda:       lambda.NewLambdaClientWithAPI(apis.Lambda, recorder),
		Scheduler:    scheduler.NewSchedulerClientWithAPI(apis.Scheduler, recorder),
		Budgets:      budgets.NewBudgetsClientWithAPI(apis.Budgets, recorder),
		SNS:          sns.NewSNSClientWithAPI(apis.SNS, recorder),
		SSM:          ssm.NewSSMClientWithAPI(apis.SSM, recorder),
		Logs:         logs.NewLogsClientWithAPI(apis.Logs, recorder),
		S3:           s3.NewS3ClientWithAPI(apis.S3, recorder),
		CostExplorer: costexplorer.NewCostExplorerClientWithAPI(apis.CostExplorer),
		logger:       logging.GetLogManager(),
	}
}

// Identity resolves the caller through STS. In dry-run an unreachable STS yields a
// placeholder account so that ARNs can still be rendered in the plan.
func (cc *CloudConnector) Identity(ctx context.Context) (sts.Identity, error) {
	identity, err := cc.STS.Whoami(ctx)
	if err == nil {
		cc.logger.Debug("Resolved caller identity", "account", identity.Account, "arn", identity.Arn)
		return identity, nil
	}
	if cc.Recorder.DryRun() {
		cc.logger.Warn("Cannot resolve the account id, using a placeholder", "account", config.PlaceholderAccount)
		return sts.Identity{Account: config.PlaceholderAccount}, nil
	}
	return sts.Identity{}, err
}

// Resources derives every resource ARN of spec for the caller account.
func (cc *CloudConnector) Resources(ctx context.Context, spec *config.DeploymentSpec) (config.Resources, error) {
	identity, err := cc.Identity(ctx)
	if err != nil {
		return config.Resources{}, err
	}
	res, err := spec.Resources(identity.Account, identity.Partition)
	if err != nil {
		return config.Resources{}, err
	}
	res.Caller = identity.Principal
	return res, nil
}
