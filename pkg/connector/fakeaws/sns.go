package fakeaws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type topic struct {
	attributes    map[string]string
	subscriptions []types.Subscription
	published     []string
}

type SNS struct {
	log     *Log
	account string
	region  string

	mu     sync.Mutex
	topics map[string]*topic
}

// Subscriptions returns the subscriptions of a topic.
func (f *SNS) Subscriptions(topicARN string) []types.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topics[topicARN]; ok {
		return append([]types.Subscription(nil), t.subscriptions...)
	}
	return nil
}

// Published returns the messages published to a topic.
func (f *SNS) Published(topicARN string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.topics[topicARN]; ok {
		return append([]string(nil), t.published...)
	}
	return nil
}

func (f *SNS) lookup(arn *string) (*topic, error) {
	t, ok := f.topics[aws.ToString(arn)]
	if !ok {
		return nil, APIError("NotFound", "Topic does not exist")
	}
	return t, nil
}

func (f *SNS) GetTopicAttributes(_ context.Context, in *sns.GetTopicAttributesInput, _ ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error) {
	if err := f.log.read("GetTopicAttributes"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup(in.TopicArn)
	if err != nil {
		return nil, err
	}
	attributes := make(map[string]string, len(t.attributes))
	for k, v := range t.attributes {
		attributes[k] = v
	}
	return &sns.GetTopicAttributesOutput{Attributes: attributes}, nil
}

func (f *SNS) CreateTopic(_ context.Context, in *sns.CreateTopicInput, _ ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	if err := f.log.mutate("CreateTopic"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	arn := fmt.Sprintf("arn:aws:sns:%s:%s:%s", f.region, f.account, aws.ToString(in.Name))
	if _, ok := f.topics[arn]; !ok {
		f.topics[arn] = &topic{attributes: map[string]string{"TopicArn": arn}}
	}
	return &sns.CreateTopicOutput{TopicArn: aws.String(arn)}, nil
}

func (f *SNS) SetTopicAttributes(_ context.Context, in *sns.SetTopicAttributesInput, _ ...func(*sns.Options)) (*sns.SetTopicAttributesOutput, error) {
	if err := f.log.mutate("SetTopicAttributes"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup(in.TopicArn)
	if err != nil {
		return nil, err
	}
	t.attributes[aws.ToString(in.AttributeName)] = aws.ToString(in.AttributeValue)
	return &sns.SetTopicAttributesOutput{}, nil
}

func (f *SNS) ListSubscriptionsByTopic(_ context.Context, in *sns.ListSubscriptionsByTopicInput, _ ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error) {
	if err := f.log.read("ListSubscriptionsByTopic"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup(in.TopicArn)
	if err != nil {
		return nil, err
	}
	return &sns.ListSubscriptionsByTopicOutput{Subscriptions: append([]types.Subscription(nil), t.subscriptions...)}, nil
}

func (f *SNS) Subscribe(_ context.Context, in *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	if err := f.log.mutate("Subscribe"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup(in.TopicArn)
	if err != nil {
		return nil, err
	}
	t.subscriptions = append(t.subscriptions, types.Subscription{
		TopicArn:        in.TopicArn,
		Protocol:        in.Protocol,
		Endpoint:        in.Endpoint,
		SubscriptionArn: aws.String("PendingConfirmation"),
	})
	return &sns.SubscribeOutput{SubscriptionArn: aws.String("pending confirmation")}, nil
}

func (f *SNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if err := f.log.mutate("Publish"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.lookup(in.TopicArn)
	if err != nil {
		return nil, err
	}
	t.published = append(t.published, aws.ToString(in.Message))
	return &sns.PublishOutput{MessageId: aws.String(fmt.Sprintf("msg-%d", len(t.published)))}, nil
}
