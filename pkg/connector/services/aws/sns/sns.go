package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/primait/lambda-deploy/pkg/plan"
)

const (
	ProtocolEmail = "email"
	// PendingConfirmation is the subscription ARN of an e-mail not confirmed yet.
	PendingConfirmation = "PendingConfirmation"
)

type API interface {
	GetTopicAttributes(ctx context.Context, params *sns.GetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
	CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	SetTopicAttributes(ctx context.Context, params *sns.SetTopicAttributesInput, optFns ...func(*sns.Options)) (*sns.SetTopicAttributesOutput, error)
	ListSubscriptionsByTopic(ctx context.Context, params *sns.ListSubscriptionsByTopicInput, optFns ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
	Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	api      API
	recorder *plan.Recorder
	logger   logging.LogManager
}

func NewSNSClient(cfg aws.Config, recorder *plan.Recorder) *SNSClient {
	return NewSNSClientWithAPI(sns.NewFromConfig(cfg), recorder)
}

func NewSNSClientWithAPI(api API, recorder *plan.Recorder) *SNSClient {
	return &SNSClient{api: api, recorder: recorder, logger: logging.GetLogManager()}
}

type TopicSpec struct {
	Name   string
	ARN    string
	Policy string
	Tags   map[string]string
}

// BudgetsPublishPolicy lets AWS Budgets of account publish to topicARN.
func BudgetsPublishPolicy(account, topicARN string) string {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{{
			"Sid":       "AllowBudgetsPublish",
			"Effect":    "Allow",
			"Principal": map[string]string{"Service": "budgets.amazonaws.com"},
			"Action":    "SNS:Publish",
			"Resource":  topicARN,
			"Condition": map[string]interface{}{
				"StringEquals": map[string]string{"aws:SourceAccount": account},
			},
		}},
	}
	b, _ := json.Marshal(policy)
	return string(b)
}

// EnsureTopic creates the topic when missing and keeps its access policy in line.
// It reports whether the topic had to be created.
func (sc *SNSClient) EnsureTopic(ctx context.Context, spec TopicSpec) (bool, error) {
	var attributes map[string]string
	output, err := sc.api.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(spec.ARN)})
	switch {
	case err == nil:
		attributes = output.Attributes
	case sc.recorder.Absent(err):
	default:
		return false, fmt.Errorf("get topic attributes of %s: %w", spec.Name, err)
	}

	created := false
	if attributes == nil {
		input := &sns.CreateTopicInput{Name: aws.String(spec.Name), Tags: toTags(spec.Tags)}
		err := sc.recorder.Do("sns", "CreateTopic", spec.Name, input, func() error {
			_, err := sc.api.CreateTopic(ctx, input)
			return err
		})
		if err != nil {
			return false, fmt.Errorf("create topic %s: %w", spec.Name, err)
		}
		sc.logger.Info("Created SNS topic", "topic", spec.Name)
		created = true
	}

	if spec.Policy == "" || samePolicy(attributes["Policy"], spec.Policy) {
		return created, nil
	}
	input := &sns.SetTopicAttributesInput{
		TopicArn:       aws.String(spec.ARN),
		AttributeName:  aws.String("Policy"),
		AttributeValue: aws.String(spec.Policy),
	}
	err = sc.recorder.Do("sns", "SetTopicAttributes", spec.Name, input, func() error {
		_, err := sc.api.SetTopicAttributes(ctx, input)
		return err
	})
	if err != nil {
		return created, fmt.Errorf("set policy of topic %s: %w", spec.Name, err)
	}
	return created, nil
}

// Subscriptions lists the subscriptions of a topic, pending confirmations included.
func (sc *SNSClient) Subscriptions(ctx context.Context, topicARN string) ([]types.Subscription, error) {
	var (
		next *string
		subs []types.Subscription
	)
	for {
		output, err := sc.api.ListSubscriptionsByTopic(ctx, &sns.ListSubscriptionsByTopicInput{
			TopicArn:  aws.String(topicARN),
			NextToken: next,
		})
		if err != nil {
			if sc.recorder.Absent(err) {
				return subs, nil
			}
			return nil, fmt.Errorf("list subscriptions of %s: %w", topicARN, err)
		}
		subs = append(subs, output.Subscriptions...)
		if output.NextToken == nil {
			return subs, nil
		}
		next = output.NextToken
	}
}

// EnsureEmailSubscription subscribes email unless a subscription for it exists,
// confirmed or not. It reports whether a new subscription was requested.
func (sc *SNSClient) EnsureEmailSubscription(ctx context.Context, topicARN, email string, topicCreated bool) (bool, error) {
	// A topic created in dry-run has no subscriptions to list.
	if !(topicCreated && sc.recorder.DryRun()) {
		subs, err := sc.Subscriptions(ctx, topicARN)
		if err != nil {
			return false, err
		}
		for _, s := range subs {
			if aws.ToString(s.Protocol) == ProtocolEmail && strings.EqualFold(aws.ToString(s.Endpoint), email) {
				if aws.ToString(s.SubscriptionArn) == PendingConfirmation {
					sc.logger.Warn("E-mail subscription still pending confirmation", "email", email)
				}
				return false, nil
			}
		}
	}

	input := &sns.SubscribeInput{
		TopicArn: aws.String(topicARN),
		Protocol: aws.String(ProtocolEmail),
		Endpoint: aws.String(email),
	}
	err := sc.recorder.Do("sns", "Subscribe", topicARN, input, func() error {
		_, err := sc.api.Subscribe(ctx, input)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("subscribe %s to %s: %w", email, topicARN, err)
	}
	sc.logger.Info("Subscribed e-mail to budget alerts, confirm it from your inbox", "email", email)
	return true, nil
}

// Publish sends a notification to the topic.
func (sc *SNSClient) Publish(ctx context.Context, topicARN, subject, message string) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	}
	err := sc.recorder.Do("sns", "Publish", topicARN, map[string]string{"Subject": subject}, func() error {
		_, err := sc.api.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topicARN, err)
	}
	return nil
}

func samePolicy(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	var pa, pb interface{}
	if json.Unmarshal([]byte(a), &pa) != nil || json.Unmarshal([]byte(b), &pb) != nil {
		return a == b
	}
	return reflect.DeepEqual(pa, pb)
}

func toTags(tags map[string]string) []types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}
