package sts

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	out *sts.GetCallerIdentityOutput
	err error
}

func (f fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return f.out, f.err
}

func TestWhoami(t *testing.T) {
	client := NewSTSClientWithAPI(fakeSTS{out: &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String("arn:aws:iam::123456789012:user/deployer"),
		UserId:  aws.String("AIDAEXAMPLE"),
	}})

	id, err := client.Whoami(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id.Account)
	assert.Equal(t, "AIDAEXAMPLE", id.UserID)
	assert.Equal(t, "aws", id.Partition)
	assert.Equal(t, "user/deployer", id.Principal)
}

func TestWhoamiPartitionFromArn(t *testing.T) {
	client := NewSTSClientWithAPI(fakeSTS{out: &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String("arn:aws-us-gov:sts::123456789012:assumed-role/deploy/ci"),
	}})

	id, err := client.Whoami(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "aws-us-gov", id.Partition)
	assert.Equal(t, "assumed-role/deploy/ci", id.Principal)
}

func TestWhoamiMalformedArn(t *testing.T) {
	client := NewSTSClientWithAPI(fakeSTS{out: &sts.GetCallerIdentityOutput{
		Account: aws.String("123456789012"),
		Arn:     aws.String("deployer"),
	}})
	_, err := client.Whoami(context.Background())
	assert.ErrorContains(t, err, "parse caller arn")
}

func TestWhoamiError(t *testing.T) {
	client := NewSTSClientWithAPI(fakeSTS{err: errors.New("expired token")})
	_, err := client.Whoami(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired token")
}
