package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.TransfersDiscarded.WithLabelValues("mint_mismatch").Inc()
	m.TransfersDiscarded.WithLabelValues("mint_mismatch").Inc()
	m.OwnerCacheLookups.WithLabelValues(hitLabel(true)).Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TransfersDiscarded.WithLabelValues("mint_mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OwnerCacheLookups.WithLabelValues("hit")))

	count, err := testutil.GatherAndCount(reg, "test_extraction_transfers_discarded_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordUpsert_DefaultMetrics(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.TransfersUpserted.WithLabelValues("memory", "inserted"))

	RecordUpsert("memory", 3, 1, 2)

	after := testutil.ToFloat64(DefaultMetrics.TransfersUpserted.WithLabelValues("memory", "inserted"))
	assert.Equal(t, before+3, after)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	assert.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger("warn")
	assert.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
