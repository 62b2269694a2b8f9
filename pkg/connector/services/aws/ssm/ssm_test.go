package ssm

import (
	"context"
	"io"
	"testing"

	"github.com/primait/lambda-deploy/pkg/connector/fakeaws"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutSecureParameter(t *testing.T) {
	cloud := fakeaws.New("123456789012", "eu-west-1")
	rec := plan.NewRecorder(false, logging.New(io.Discard))
	client := NewSSMClientWithAPI(cloud.SSM, rec)
	ctx := context.Background()

	changed, err := client.PutSecureParameter(ctx, "/fn/token", "s3cr3t", "API token")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = client.PutSecureParameter(ctx, "/fn/token", "s3cr3t", "API token")
	require.NoError(t, err)
	assert.False(t, changed)
	_, version := cloud.SSM.Parameter("/fn/token")
	assert.Equal(t, int64(1), version)

	changed, err = client.PutSecureParameter(ctx, "/fn/token", "rotated", "API token")
	require.NoError(t, err)
	assert.True(t, changed)
	value, version := cloud.SSM.Parameter("/fn/token")
	assert.Equal(t, "rotated", value)
	assert.Equal(t, int64(2), version)

	for _, c := range rec.Calls() {
		assert.NotContains(t, c.Params, "s3cr3t")
		for _, v := range c.Params {
			assert.NotEqual(t, "s3cr3t", v)
			assert.NotEqual(t, "rotated", v)
		}
	}
}

func TestPutSecureParameterError(t *testing.T) {
	cloud := fakeaws.New("123456789012", "eu-west-1")
	cloud.Fail["GetParameter"] = fakeaws.APIError("AccessDeniedException", "denied")
	client := NewSSMClientWithAPI(cloud.SSM, plan.NewRecorder(false, logging.New(io.Discard)))

	_, err := client.PutSecureParameter(context.Background(), "/fn/token", "x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDeniedException")
	assert.Empty(t, cloud.Mutations())
}
