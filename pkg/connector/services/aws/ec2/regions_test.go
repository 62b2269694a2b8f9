package ec2

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	input *ec2.DescribeRegionsInput
}

func (f *fakeEC2) DescribeRegions(_ context.Context, in *ec2.DescribeRegionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	f.input = in
	return &ec2.DescribeRegionsOutput{Regions: []types.Region{
		{RegionName: aws.String("us-east-1")},
		{RegionName: aws.String("eu-west-1")},
		{RegionName: aws.String("eu-south-1")},
	}}, nil
}

func TestValidateRegion(t *testing.T) {
	fake := &fakeEC2{}
	client := NewEC2ClientWithAPI(fake)

	regions, err := client.Regions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"eu-south-1", "eu-west-1", "us-east-1"}, regions)
	assert.True(t, aws.ToBool(fake.input.AllRegions))

	require.NoError(t, client.ValidateRegion(context.Background(), "eu-west-1"))
	err = client.ValidateRegion(context.Background(), "mars-north-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mars-north-1")
}
