package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/groundwater/internal/model"
	"github.com/sells-group/groundwater/internal/observability"
	"github.com/sells-group/groundwater/internal/resilience"
	"github.com/sells-group/groundwater/internal/store"
)

const historicalDataset = `[
	{"stationName":"Rajghat_1","district":"Baleshwar","state":"Odisha","wellDepth":40,
	 "dataValue":-10,"rainfall":3.5,"dataTime":{"year":2024,"monthValue":3,"dayOfMonth":1}},
	{"stationName":"Rajghat_1","district":"Baleshwar","state":"Odisha","wellDepth":40,
	 "dataValue":-12,"timestamp":"2024-03-02T00:00:00Z"},
	{"stationName":"Puri_1","district":"Puri","state":"Odisha",
	 "dataValue":-5,"timestamp":"2024-03-02T00:00:00Z"},
	{"district":"Puri","state":"Odisha","dataValue":-1,"timestamp":"2024-03-03T00:00:00Z"}
]`

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testInput(t *testing.T) Input {
	t.Helper()
	hist, err := ParseHistorical([]byte(historicalDataset))
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC))
	synth, err := NewGenerator(clock, &seqRand{vals: []float64{0.1, 0.4, 0.9}}, 2).Generate(DefaultFixtures()[:1])
	require.NoError(t, err)

	return Merge(hist, synth)
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestOrchestrator_Run(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	metrics := observability.NewMetricsForTesting()

	report, err := NewOrchestrator(st, metrics, WithRetry(fastRetry())).Run(ctx, testInput(t))
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)

	// 4 historical rows + 1 fixture; Baleshwar appears in both sources.
	assert.Equal(t, model.StageCounts{Candidates: 5, Upserted: 2, Inserted: 2}, report.Counts[model.KindDistrict])
	// Unnamed historical row is skipped; Rajghat_1 is deduped across sources.
	assert.Equal(t, model.StageCounts{Candidates: 4, Upserted: 2, Inserted: 2, Skipped: 1}, report.Counts[model.KindStation])
	// 3 named historical readings + 2 synthetic days.
	assert.Equal(t, model.StageCounts{Candidates: 5, Upserted: 5, Inserted: 5, Skipped: 1}, report.Counts[model.KindWaterLevel])
	// 1 positive historical rainfall + 2 synthetic days.
	assert.Equal(t, model.StageCounts{Candidates: 3, Upserted: 3, Inserted: 3}, report.Counts[model.KindRainfall])

	for kind, want := range map[model.EntityKind]int64{
		model.KindDistrict: 2, model.KindStation: 2, model.KindWaterLevel: 5, model.KindRainfall: 3,
	} {
		n, err := st.CountRows(ctx, kind)
		require.NoError(t, err)
		assert.Equal(t, want, n, kind)
	}

	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.RowsInserted.WithLabelValues("water_levels")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestRuns.WithLabelValues("complete")))

	runs, err := st.ListIngestRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.IngestStatusComplete, runs[0].Status)
	assert.Equal(t, int64(5), runs[0].Counts[model.KindWaterLevel].Inserted)
}

func TestOrchestrator_RunIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	orch := NewOrchestrator(st, observability.NewMetricsForTesting(), WithRetry(fastRetry()))

	_, err := orch.Run(ctx, testInput(t))
	require.NoError(t, err)

	districtsBefore, err := st.ListDistricts(ctx, store.DistrictFilter{})
	require.NoError(t, err)

	report, err := orch.Run(ctx, testInput(t))
	require.NoError(t, err)

	for kind, c := range report.Counts {
		assert.Zero(t, c.Inserted, kind)
		assert.Equal(t, int64(c.Upserted), c.Ignored, kind)
	}

	districtsAfter, err := st.ListDistricts(ctx, store.DistrictFilter{})
	require.NoError(t, err)
	assert.Equal(t, districtsBefore, districtsAfter, "surrogate ids are stable across runs")

	n, err := st.CountRows(ctx, model.KindWaterLevel)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestOrchestrator_UnresolvedReadingsExcluded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	in := testInput(t)
	ghost, err := ParseHistorical([]byte(`[{"stationName":"Ghost","district":"Nowhere","state":"Odisha",
		"dataValue":-3,"rainfall":1,"timestamp":"2024-03-02T00:00:00Z"}]`))
	require.NoError(t, err)
	// Readings only: the station is never described.
	in.Readings = append(in.Readings, ghost.Readings...)

	metrics := observability.NewMetricsForTesting()
	report, err := NewOrchestrator(st, metrics, WithRetry(fastRetry())).Run(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts[model.KindWaterLevel].Unresolved)
	assert.Equal(t, int64(5), report.Counts[model.KindWaterLevel].Inserted)
	assert.Equal(t, 1, report.Counts[model.KindRainfall].Unresolved)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RowsUnresolved.WithLabelValues("rainfall")))
}

func TestOrchestrator_RainfallUsesStationCode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := NewOrchestrator(st, observability.NewMetricsForTesting(), WithRetry(fastRetry())).Run(ctx, testInput(t))
	require.NoError(t, err)

	districts, err := st.ListDistricts(ctx, store.DistrictFilter{})
	require.NoError(t, err)
	ids := make([]int64, 0, len(districts))
	for _, d := range districts {
		ids = append(ids, d.ID)
	}
	stations, err := st.ListStationsByDistricts(ctx, ids)
	require.NoError(t, err)

	var rajghat model.Station
	for _, s := range stations {
		if s.Name == "Rajghat_1" {
			rajghat = s
		}
	}
	require.NotZero(t, rajghat.ID)
	require.NotNil(t, rajghat.WellDepth)
	assert.Equal(t, 40.0, *rajghat.WellDepth)

	assert.Equal(t, "GW-7", StationCode(7))

	readings, err := st.LatestReadings(ctx, rajghat.ID, 10)
	require.NoError(t, err)
	assert.Len(t, readings, 4, "2 historical + 2 synthetic")
}

// faultySink wraps a real store and injects failures.
type faultySink struct {
	Sink
	districtFailures int
	dropDistrict     string
	stationsErr      error
	waterLevelCalls  int
	failedRunID      string
	failedMsg        string
}

func (f *faultySink) UpsertDistricts(ctx context.Context, d []model.District) (store.UpsertResult, []model.District, error) {
	if f.districtFailures > 0 {
		f.districtFailures--
		return store.UpsertResult{}, nil, resilience.NewTransientError(errors.New("database is locked"))
	}
	res, rows, err := f.Sink.UpsertDistricts(ctx, d)
	if err != nil || f.dropDistrict == "" {
		return res, rows, err
	}
	kept := rows[:0]
	for _, row := range rows {
		if row.Name != f.dropDistrict {
			kept = append(kept, row)
		}
	}
	return res, kept, nil
}

func (f *faultySink) UpsertStations(ctx context.Context, s []model.Station) (store.UpsertResult, []model.Station, error) {
	if f.stationsErr != nil {
		return store.UpsertResult{}, nil, f.stationsErr
	}
	return f.Sink.UpsertStations(ctx, s)
}

func (f *faultySink) UpsertWaterLevels(ctx context.Context, r []model.WaterLevelReading) (store.UpsertResult, error) {
	f.waterLevelCalls++
	return f.Sink.UpsertWaterLevels(ctx, r)
}

func (f *faultySink) FailIngestRun(ctx context.Context, runID, msg string) error {
	f.failedRunID, f.failedMsg = runID, msg
	return f.Sink.FailIngestRun(ctx, runID, msg)
}

func TestOrchestrator_RetriesTransientErrors(t *testing.T) {
	sink := &faultySink{Sink: newTestStore(t), districtFailures: 2}

	report, err := NewOrchestrator(sink, observability.NewMetricsForTesting(), WithRetry(fastRetry())).
		Run(context.Background(), testInput(t))
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Counts[model.KindDistrict].Inserted)
	assert.Zero(t, sink.districtFailures)
}

func TestOrchestrator_StageFailureAbortsRun(t *testing.T) {
	st := newTestStore(t)
	sink := &faultySink{Sink: st, stationsErr: errors.New("check constraint violated")}
	metrics := observability.NewMetricsForTesting()

	report, err := NewOrchestrator(sink, metrics, WithRetry(fastRetry())).Run(context.Background(), testInput(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest: stage stations")

	require.NotNil(t, report)
	assert.Equal(t, int64(2), report.Counts[model.KindDistrict].Inserted, "completed stages are reported")
	assert.Zero(t, sink.waterLevelCalls, "later stages never run")
	assert.Equal(t, report.RunID, sink.failedRunID)
	assert.Contains(t, sink.failedMsg, "check constraint violated")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestRuns.WithLabelValues("failed")))

	runs, err := st.ListIngestRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.IngestStatusFailed, runs[0].Status)
}

func TestOrchestrator_BatchesReadings(t *testing.T) {
	sink := &faultySink{Sink: newTestStore(t)}

	report, err := NewOrchestrator(sink, observability.NewMetricsForTesting(), WithRetry(fastRetry()), WithBatchSize(2)).
		Run(context.Background(), testInput(t))
	require.NoError(t, err)
	assert.Equal(t, 3, sink.waterLevelCalls, "5 readings in batches of 2")
	assert.Equal(t, int64(5), report.Counts[model.KindWaterLevel].Inserted)
}

func TestOrchestrator_StationWithoutDistrictIDExcluded(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	sink := &faultySink{Sink: st, dropDistrict: "Puri"}

	report, err := NewOrchestrator(sink, observability.NewMetricsForTesting(), WithRetry(fastRetry())).Run(ctx, testInput(t))
	require.NoError(t, err)
	assert.Equal(t, model.StageCounts{Candidates: 4, Upserted: 1, Inserted: 1, Unresolved: 1, Skipped: 1}, report.Counts[model.KindStation])

	districts, err := st.ListDistricts(ctx, store.DistrictFilter{})
	require.NoError(t, err)
	ids := make([]int64, 0, len(districts))
	for _, d := range districts {
		ids = append(ids, d.ID)
	}
	stations, err := st.ListStationsByDistricts(ctx, ids)
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "Rajghat_1", stations[0].Name)
}

func TestOrchestrator_SeparatorInNamesKeepsDistrictsApart(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	in, err := ParseHistorical([]byte(`[
		{"stationName":"S1","district":"A|B","state":"C","dataValue":-1,"timestamp":"2024-03-01T00:00:00Z"},
		{"stationName":"S2","district":"A","state":"B|C","dataValue":-2,"timestamp":"2024-03-01T00:00:00Z"}
	]`))
	require.NoError(t, err)

	report, err := NewOrchestrator(st, observability.NewMetricsForTesting(), WithRetry(fastRetry())).Run(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Counts[model.KindDistrict].Inserted)
	assert.Equal(t, int64(2), report.Counts[model.KindStation].Inserted)

	districts, err := st.ListDistricts(ctx, store.DistrictFilter{})
	require.NoError(t, err)
	require.Len(t, districts, 2)
	byName := map[string]int64{}
	ids := make([]int64, 0, len(districts))
	for _, d := range districts {
		byName[d.Name+"/"+d.State] = d.ID
		ids = append(ids, d.ID)
	}
	stations, err := st.ListStationsByDistricts(ctx, ids)
	require.NoError(t, err)
	require.Len(t, stations, 2)
	for _, s := range stations {
		switch s.Name {
		case "S1":
			assert.Equal(t, byName["A|B/C"], s.DistrictID)
		case "S2":
			assert.Equal(t, byName["A/B|C"], s.DistrictID)
		}
	}
}
