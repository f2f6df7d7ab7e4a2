package trace

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpansExportWhenEnabled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Enabled: true, ServiceName: "test", Writer: &buf, Sync: true}))
	t.Cleanup(func() {
		_ = Shutdown(context.Background())
		enabled, tracer, tracerProvider = false, nil, nil
	})

	ctx, span := StartSpan(context.Background(), "venue.SubmitOrder")
	traceID, _, ok := IDs(ctx)
	span.End()

	require.True(t, ok)
	assert.Len(t, traceID, 32)
	assert.Contains(t, buf.String(), "venue.SubmitOrder")
}

func TestDisabledIsNoop(t *testing.T) {
	require.NoError(t, Init(Config{}))
	ctx, span := StartSpan(context.Background(), "noop")
	span.End()
	_, _, ok := IDs(ctx)
	assert.False(t, ok)
	assert.False(t, Enabled())
}
