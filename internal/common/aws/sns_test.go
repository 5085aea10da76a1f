package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	input *sns.PublishInput
	err   error
}

func (f *fakePublisher) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: sdkaws.String("msg-1")}, nil
}

func TestPublishEvent(t *testing.T) {
	api := &fakePublisher{}
	client := NewSNSClientWithAPI(api, "arn:aws:sns:us-east-1:123:agent-events")

	id, err := client.PublishEvent(context.Background(), "agent.completed", map[string]interface{}{"jobId": "j1", "status": "done"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	require.NotNil(t, api.input)
	assert.Equal(t, "arn:aws:sns:us-east-1:123:agent-events", sdkaws.ToString(api.input.TopicArn))
	assert.Equal(t, "agent.completed", sdkaws.ToString(api.input.MessageAttributes["event_type"].StringValue))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(sdkaws.ToString(api.input.Message)), &body))
	assert.Equal(t, "j1", body["jobId"])
}

func TestPublishEvent_Error(t *testing.T) {
	client := NewSNSClientWithAPI(&fakePublisher{err: errors.New("throttled")}, "arn")

	_, err := client.PublishEvent(context.Background(), "agent.completed", struct{}{})
	assert.ErrorContains(t, err, "throttled")
}
