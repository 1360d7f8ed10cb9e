package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitMetrics_CreatesAllInstruments(t *testing.T) {
	metrics, err := InitMetrics()

	require.NoError(t, err)
	require.NotNil(t, metrics)
	assert.NotNil(t, metrics.MatchCount)
	assert.NotNil(t, metrics.MatchDuration)
	assert.NotNil(t, metrics.PublishCount)
	assert.NotNil(t, metrics.DBQueryDuration)
	assert.NotNil(t, metrics.CacheHitCount)
	assert.NotNil(t, metrics.CacheMissCount)

	// Recording must be safe against the default meter provider.
	ctx := context.Background()
	metrics.MatchCount.Add(ctx, 1)
	metrics.MatchDuration.Record(ctx, 12.5)
	metrics.PublishCount.Add(ctx, 1)
	metrics.DBQueryDuration.Record(ctx, 3.2)
	metrics.CacheHitCount.Add(ctx, 1)
	metrics.CacheMissCount.Add(ctx, 1)
}

func TestStartSpan_HelpersAreSafeWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.operation")

	require.NotNil(t, ctx)
	require.NotNil(t, span)

	SetSpanAttributes(span, attribute.String("integration_id", "tenant-1"))
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()
}
