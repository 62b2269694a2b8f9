package connector

import (
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
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
)

// CloudConnector bundles one client per AWS service, all sharing the same plan recorder.
type CloudConnector struct {
	AWSConfig awsconfig.AWSConfig
	Recorder  *plan.Recorder

	STS          *sts.STSClient
	EC2          *ec2.EC2Client
	IAM          *iam.IAMClient
	Lambda       *lambda.LambdaClient
	Scheduler    *scheduler.SchedulerClient
	Budgets      *budgets.BudgetsClient
	SNS          *sns.SNSClient
	SSM          *ssm.SSMClient
	Logs         *logs.LogsClient
	S3           *s3.S3Client
	CostExplorer *costexplorer.CostExplorerClient

	logger logging.LogManager
}

// APIs are the raw service APIs a CloudConnector can be built from.
type APIs struct {
	STS          sts.API
	EC2          ec2.API
	IAM          iam.API
	Analyzer     iam.AnalyzerAPI
	Lambda       lambda.API
	Scheduler    scheduler.API
	Budgets      budgets.API
	SNS          sns.API
	SSM          ssm.API
	Logs         logs.API
	S3           s3.API
	CostExplorer costexplorer.API
}
