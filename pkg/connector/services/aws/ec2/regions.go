package ec2

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/primait/lambda-deploy/pkg/io/logging"
)

type API interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

type EC2Client struct {
	api    API
	logger logging.LogManager
}

func NewEC2Client(cfg aws.Config) *EC2Client {
	return NewEC2ClientWithAPI(ec2.NewFromConfig(cfg))
}

func NewEC2ClientWithAPI(api API) *EC2Client {
	return &EC2Client{api: api, logger: logging.GetLogManager()}
}

// Regions returns the names of the regions enabled for the account, sorted.
func (ec *EC2Client) Regions(ctx context.Context) ([]string, error) {
	output, err := ec.api.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		AllRegions: aws.Bool(true),
		Filters: []types.Filter{{
			Name:   aws.String("opt-in-status"),
			Values: []string{"opt-in-not-required", "opted-in"},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("describe regions: %w", err)
	}

	regions := make([]string, 0, len(output.Regions))
	for _, r := range output.Regions {
		regions = append(regions, aws.ToString(r.RegionName))
	}
	sort.Strings(regions)
	return regions, nil
}

// ValidateRegion fails when region is not enabled for the account.
func (ec *EC2Client) ValidateRegion(ctx context.Context, region string) error {
	regions, err := ec.Regions(ctx)
	if err != nil {
		return err
	}
	i := sort.SearchStrings(regions, region)
	if i < len(regions) && regions[i] == region {
		return nil
	}
	ec.logger.Debug("Enabled regions", "regions", regions)
	return fmt.Errorf("region %q is not enabled for this account", region)
}
