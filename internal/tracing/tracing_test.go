package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "photoimport", "test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracer_Enabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "photoimport", "test", "127.0.0.1:4318")
	require.NoError(t, err)
	_, ok := otel.GetTracerProvider().(interface{ ForceFlush(context.Context) error })
	assert.True(t, ok, "sdk provider must be installed globally")
	assert.NoError(t, shutdown(context.Background()))
}
