package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsRuns(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("finderfees:sweep").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("finderfees:sweep").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("finderfees:sweep", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("finderfees:sweep", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("finderfees:sweep")))
}

func TestRecordFinderFeeOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordFinderFeeOutcome("", 2)
	m.RecordFinderFeeOutcome("already_processed", 0)
	m.RecordFinderFeeOutcome("already_processed", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.feeOutcomes.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.feeOutcomes.WithLabelValues("already_processed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.feesCreated))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordFinderFeeOutcome("", 1)
	assert.NoError(t, m.Track("noop").End(nil))
}
