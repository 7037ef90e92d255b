package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := racesTotal
	Init()

	require.NotNil(t, racesTotal)
	require.Same(t, first, racesTotal)
	require.NotNil(t, recordsInsertedTotal)
	require.NotNil(t, crawlRunsTotal)
	require.NotNil(t, httpRequestsTotal)
}

func TestObserveRace(t *testing.T) {
	Init()
	before := testutil.ToFloat64(racesTotal.WithLabelValues(OutcomeParseError))

	ObserveRace(OutcomeParseError)
	ObserveRace(OutcomeParseError)

	require.InDelta(t, before+2, testutil.ToFloat64(racesTotal.WithLabelValues(OutcomeParseError)), 1e-9)
}

func TestAddRecordsInsertedIgnoresNonPositive(t *testing.T) {
	Init()
	before := testutil.ToFloat64(recordsInsertedTotal)

	AddRecordsInserted(0)
	AddRecordsInserted(-3)
	AddRecordsInserted(14)

	require.InDelta(t, before+14, testutil.ToFloat64(recordsInsertedTotal), 1e-9)
}

func TestObserveCrawl(t *testing.T) {
	Init()
	before := testutil.ToFloat64(crawlRunsTotal.WithLabelValues("finished"))

	ObserveCrawl("finished", 3*time.Second)

	require.InDelta(t, before+1, testutil.ToFloat64(crawlRunsTotal.WithLabelValues("finished")), 1e-9)
	require.Positive(t, testutil.CollectAndCount(crawlDurationSeconds))
}

func TestActiveWorkersGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeWorkers)

	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()

	require.InDelta(t, before+1, testutil.ToFloat64(activeWorkers), 1e-9)
	DecActiveWorkers()
}
