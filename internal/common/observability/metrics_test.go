package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MetricsOnly(t *testing.T) {
	o, err := New(Config{ServiceName: "pharma-orchestrator-test"})
	require.NoError(t, err)
	defer o.Shutdown()

	assert.NotNil(t, o.Tracer())
	assert.Nil(t, o.tracerProvider, "tracing stays off unless enabled")

	ctx, span := o.Tracer().Start(context.Background(), "test")
	o.RecordQuery(ctx, 120*time.Millisecond, "answered")
	span.End()
}
