package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSpanLifecycle(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	core, logs := observer.New(zapcore.DebugLevel)

	_, step := StartSpan(context.Background(), tp.Tracer("test"), zap.New(core), "Capture",
		attribute.Bool("diff_only", true))
	step.AddEvent("walking dom")
	step.End(errors.New("evaluate failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "Capture", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	require.Len(t, spans[0].Events(), 2)
	assert.Equal(t, "walking dom", spans[0].Events()[0].Name)

	assert.Equal(t, 1, logs.FilterMessage("walking dom").Len())
	assert.Equal(t, 1, logs.FilterMessage("Span finished with error").Len())
}
