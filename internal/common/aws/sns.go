// Package aws publishes orchestrator events to SNS.
package aws

import (
	"context"
	"encoding/json"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// PublishAPI is the subset of the SNS client used here.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client   PublishAPI
	topicARN string
}

func NewSNSClient(ctx context.Context, region, topicARN string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return NewSNSClientWithAPI(sns.NewFromConfig(cfg), topicARN), nil
}

func NewSNSClientWithAPI(api PublishAPI, topicARN string) *SNSClient {
	return &SNSClient{client: api, topicARN: topicARN}
}

// PublishEvent sends payload as JSON with an event_type message attribute and
// returns the SNS message id.
func (s *SNSClient) PublishEvent(ctx context.Context, eventType string, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", eventType, err)
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: sdkaws.String(s.topicARN),
		Message:  sdkaws.String(string(body)),
		Subject:  sdkaws.String(eventType),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: sdkaws.String("String"), StringValue: sdkaws.String(eventType)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return sdkaws.ToString(out.MessageId), nil
}
