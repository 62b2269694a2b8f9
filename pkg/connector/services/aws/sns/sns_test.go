package sns

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

const topicARN = "arn:aws:sns:eu-west-1:123456789012:fn-budget-alerts"

func topicSpec() TopicSpec {
	return TopicSpec{
		Name:   "fn-budget-alerts",
		ARN:    topicARN,
		Policy: BudgetsPublishPolicy("123456789012", topicARN),
		Tags:   map[string]string{"ManagedBy": "lambda-deploy"},
	}
}

func TestEnsureTopicAndSubscription(t *testing.T) {
	cloud := fakeaws.New("123456789012", "eu-west-1")
	client := NewSNSClientWithAPI(cloud.SNS, plan.NewRecorder(false, logging.New(io.Discard)))
	ctx := context.Background()

	created, err := client.EnsureTopic(ctx, topicSpec())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"CreateTopic", "SetTopicAttributes"}, cloud.Mutations())

	subscribed, err := client.EnsureEmailSubscription(ctx, topicARN, "ops@example.com", created)
	require.NoError(t, err)
	assert.True(t, subscribed)

	cloud.Reset()
	created, err = client.EnsureTopic(ctx, topicSpec())
	require.NoError(t, err)
	assert.False(t, created)
	subscribed, err = client.EnsureEmailSubscription(ctx, topicARN, "OPS@example.com", created)
	require.NoError(t, err)
	assert.False(t, subscribed, "pending confirmations count as subscribed")
	assert.Empty(t, cloud.Mutations())
	assert.Len(t, cloud.SNS.Subscriptions(topicARN), 1)

	require.NoError(t, client.Publish(ctx, topicARN, "fn disabled", "kill switch engaged"))
	assert.Equal(t, []string{"kill switch engaged"}, cloud.SNS.Published(topicARN))
}

func TestEnsureTopicDryRun(t *testing.T) {
	cloud := fakeaws.New("123456789012", "eu-west-1")
	rec := plan.NewRecorder(true, logging.New(io.Discard))
	client := NewSNSClientWithAPI(cloud.SNS, rec)
	ctx := context.Background()

	created, err := client.EnsureTopic(ctx, topicSpec())
	require.NoError(t, err)
	_, err = client.EnsureEmailSubscription(ctx, topicARN, "ops@example.com", created)
	require.NoError(t, err)
	assert.Empty(t, cloud.Mutations())
	assert.Len(t, rec.Calls(), 3)
}

func TestSamePolicy(t *testing.T) {
	assert.True(t, samePolicy(`{"a":1,"b":[1,2]}`, `{ "b":[1,2], "a":1 }`))
	assert.False(t, samePolicy(`{"a":1}`, ""))
	assert.True(t, samePolicy("", ""))
}
