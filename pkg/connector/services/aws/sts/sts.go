package sts

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/notdodo/arner"
	"github.com/primait/lambda-deploy/pkg/io/logging"
)

type API interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type STSClient struct {
	api    API
	logger logging.LogManager
}

// Identity is the caller behind the configured credentials.
type Identity struct {
	Account   string `json:"account"`
	Arn       string `json:"arn"`
	UserID    string `json:"userId"`
	Partition string `json:"partition"`
	Principal string `json:"principal"`
}

func NewSTSClient(cfg aws.Config) *STSClient {
	return NewSTSClientWithAPI(sts.NewFromConfig(cfg))
}

func NewSTSClientWithAPI(api API) *STSClient {
	return &STSClient{api: api, logger: logging.GetLogManager()}
}

// aws sts get-caller-identity
func (sc *STSClient) Whoami(ctx context.Context) (Identity, error) {
	output, err := sc.api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, fmt.Errorf("get caller identity: %w", err)
	}

	id := Identity{
		Account: aws.ToString(output.Account),
		Arn:     aws.ToString(output.Arn),
		UserID:  aws.ToString(output.UserId),
	}
	parsed, err := arner.ParseARN(id.Arn)
	if err != nil {
		return Identity{}, fmt.Errorf("parse caller arn %q: %w", id.Arn, err)
	}
	id.Partition = parsed.Partition
	id.Principal = parsed.Resource
	if parsed.ResourceType != "" {
		id.Principal = parsed.ResourceType + "/" + parsed.Resource
	}
	sc.logger.Debug("sts get-caller-identity", "account", id.Account, "arn", id.Arn)
	return id, nil
}
