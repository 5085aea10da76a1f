package camunda

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharma-orchestrator/internal/common/errors"
)

func testClient() *Client {
	return &Client{config: &ClientConfig{RetryConfig: &RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}}}
}

func TestExecuteWithRetry(t *testing.T) {
	tests := []struct {
		name           string
		failures       []error
		validateOutput func(t *testing.T, result interface{}, err error, calls int)
	}{
		{
			name: "succeeds first time",
			validateOutput: func(t *testing.T, result interface{}, err error, calls int) {
				require.NoError(t, err)
				assert.Equal(t, int64(7), result)
				assert.Equal(t, 1, calls)
			},
		},
		{
			name:     "retries transient errors",
			failures: []error{stderrors.New("rpc error: code = Unavailable"), stderrors.New("context deadline exceeded")},
			validateOutput: func(t *testing.T, result interface{}, err error, calls int) {
				require.NoError(t, err)
				assert.Equal(t, int64(7), result)
				assert.Equal(t, 3, calls)
			},
		},
		{
			name:     "stops on permanent errors",
			failures: []error{stderrors.New("process definition not found")},
			validateOutput: func(t *testing.T, _ interface{}, err error, calls int) {
				require.Error(t, err)
				assert.Equal(t, 1, calls)
				stdErr, ok := errors.As(err)
				require.True(t, ok)
				assert.Equal(t, errors.ErrCodeWorkflowEngineFailed, stdErr.Code)
				assert.False(t, stdErr.Retryable)
			},
		},
		{
			name: "gives up after max retries",
			failures: []error{
				stderrors.New("connection refused"),
				stderrors.New("connection refused"),
				stderrors.New("connection refused"),
			},
			validateOutput: func(t *testing.T, _ interface{}, err error, calls int) {
				require.Error(t, err)
				assert.Equal(t, 3, calls)
				stdErr, ok := errors.As(err)
				require.True(t, ok)
				assert.True(t, stdErr.Retryable)
				assert.Contains(t, stdErr.Details, "after 3 attempts")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			result, err := testClient().ExecuteWithRetry(context.Background(), func(context.Context) (interface{}, error) {
				calls++
				if calls <= len(tt.failures) {
					return nil, tt.failures[calls-1]
				}
				return int64(7), nil
			}, "create-instance:pharma-query")
			tt.validateOutput(t, result, err, calls)
		})
	}
}

func TestExecuteWithRetry_StopsOnCancel(t *testing.T) {
	c := testClient()
	c.config.RetryConfig.BaseDelay = time.Hour
	c.config.RetryConfig.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := c.ExecuteWithRetry(ctx, func(context.Context) (interface{}, error) {
		calls++
		cancel()
		return nil, stderrors.New("timeout")
	}, "op")

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
