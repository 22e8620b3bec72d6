package ingest

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/groundwater/internal/model"
	"github.com/sells-group/groundwater/internal/observability"
	"github.com/sells-group/groundwater/internal/resilience"
	"github.com/sells-group/groundwater/internal/store"
)

// DefaultBatchSize bounds the rows sent in one reading upsert call.
const DefaultBatchSize = 5000

// Sink is the store surface the orchestrator writes to.
type Sink interface {
	store.Writer
	store.RunLog
}

// Report holds the per-entity outcome of one run.
type Report struct {
	RunID  string
	Counts map[model.EntityKind]model.StageCounts
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetry overrides the retry policy for store calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *Orchestrator) { o.retry = cfg }
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// Orchestrator runs the four ingestion stages in dependency order:
// districts, stations, then water levels and rainfall concurrently.
type Orchestrator struct {
	sink      Sink
	metrics   *observability.Metrics
	retry     resilience.RetryConfig
	batchSize int
	log       *zap.Logger
}

// NewOrchestrator creates an Orchestrator writing to sink.
func NewOrchestrator(sink Sink, metrics *observability.Metrics, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sink:      sink,
		metrics:   metrics,
		retry:     resilience.DefaultRetryConfig(),
		batchSize: DefaultBatchSize,
		log:       zap.L().With(zap.String("component", "ingest")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run ingests in and records the run. On failure the returned report holds
// the counts of the stages that completed.
func (o *Orchestrator) Run(ctx context.Context, in Input) (*Report, error) {
	runID, err := resilience.DoVal(ctx, o.retryFor("start_run"), o.sink.StartIngestRun)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: start run")
	}

	report := &Report{RunID: runID, Counts: make(map[model.EntityKind]model.StageCounts, 4)}
	log := o.log.With(zap.String("run_id", runID))
	log.Info("ingest: run started",
		zap.Int("station_records", len(in.Stations)),
		zap.Int("reading_records", len(in.Readings)),
	)

	if err := o.run(ctx, log, in, report); err != nil {
		o.metrics.IngestRuns.WithLabelValues(string(model.IngestStatusFailed)).Inc()
		if failErr := o.sink.FailIngestRun(context.WithoutCancel(ctx), runID, err.Error()); failErr != nil {
			log.Warn("ingest: failed to record run failure", zap.Error(failErr))
		}
		log.Error("ingest: run failed", zap.Error(err))
		return report, err
	}

	if err := o.sink.CompleteIngestRun(ctx, runID, report.Counts); err != nil {
		return report, eris.Wrap(err, "ingest: complete run")
	}
	o.metrics.IngestRuns.WithLabelValues(string(model.IngestStatusComplete)).Inc()
	log.Info("ingest: run complete")
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, in Input, report *Report) error {
	districtIDs, counts, err := o.stageDistricts(ctx, in.Stations)
	o.record(log, model.KindDistrict, counts, report)
	if err != nil {
		return err
	}

	stationIDs, counts, err := o.stageStations(ctx, log, in.Stations, districtIDs)
	o.record(log, model.KindStation, counts, report)
	if err != nil {
		return err
	}

	readings, skipped := normalizeReadings(in.Readings)

	var wlCounts, rfCounts model.StageCounts
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wlCounts, err = o.stageWaterLevels(gctx, log, readings, stationIDs)
		wlCounts.Skipped = skipped
		return err
	})
	g.Go(func() error {
		var err error
		rfCounts, err = o.stageRainfall(gctx, log, readings, stationIDs)
		return err
	})
	err = g.Wait()
	o.record(log, model.KindWaterLevel, wlCounts, report)
	o.record(log, model.KindRainfall, rfCounts, report)
	return err
}

func (o *Orchestrator) record(log *zap.Logger, kind model.EntityKind, c model.StageCounts, report *Report) {
	report.Counts[kind] = c
	label := string(kind)
	o.metrics.RowsInserted.WithLabelValues(label).Add(float64(c.Inserted))
	o.metrics.RowsIgnored.WithLabelValues(label).Add(float64(c.Ignored))
	o.metrics.RowsUnresolved.WithLabelValues(label).Add(float64(c.Unresolved))
	log.Info("ingest: stage counts",
		zap.String("stage", label),
		zap.Int("candidates", c.Candidates),
		zap.Int("upserted", c.Upserted),
		zap.Int64("inserted", c.Inserted),
		zap.Int64("ignored", c.Ignored),
		zap.Int("unresolved", c.Unresolved),
		zap.Int("skipped", c.Skipped),
	)
}

func (o *Orchestrator) retryFor(op string) resilience.RetryConfig {
	cfg := o.retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = resilience.RetryLogger("ingest", op)
	}
	return cfg
}

func (o *Orchestrator) observe(kind model.EntityKind, start time.Time) {
	o.metrics.StageDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

type persisted[T any] struct {
	result store.UpsertResult
	rows   []T
}

func stageErr(kind model.EntityKind, err error) error {
	return eris.Wrapf(err, "ingest: stage %s", kind)
}

func (o *Orchestrator) stageDistricts(ctx context.Context, records []RawRecord) (IDMap, model.StageCounts, error) {
	defer o.observe(model.KindDistrict, time.Now())

	candidates := make([]CanonicalDistrict, 0, len(records))
	for _, r := range records {
		candidates = append(candidates, NormalizeDistrict(r))
	}
	deduped := Dedupe(candidates, CanonicalDistrict.Key)

	payload := make([]model.District, 0, len(deduped))
	for _, d := range deduped {
		payload = append(payload, model.District{Name: d.Name, State: d.State})
	}

	counts := model.StageCounts{Candidates: len(candidates), Upserted: len(payload)}
	out, err := resilience.DoVal(ctx, o.retryFor("upsert_districts"), func(ctx context.Context) (persisted[model.District], error) {
		res, rows, err := o.sink.UpsertDistricts(ctx, payload)
		return persisted[model.District]{res, rows}, err
	})
	if err != nil {
		return nil, counts, stageErr(model.KindDistrict, err)
	}
	counts.Inserted, counts.Ignored = out.result.Inserted, out.result.Ignored
	return DistrictIDMap(out.rows), counts, nil
}

func (o *Orchestrator) stageStations(ctx context.Context, log *zap.Logger, records []RawRecord, districts IDMap) (IDMap, model.StageCounts, error) {
	defer o.observe(model.KindStation, time.Now())

	var counts model.StageCounts
	candidates := make([]CanonicalStation, 0, len(records))
	for _, r := range records {
		s, ok := NormalizeStation(r)
		if !ok {
			counts.Skipped++
			continue
		}
		candidates = append(candidates, s)
	}
	counts.Candidates = len(candidates)

	deduped := Dedupe(candidates, CanonicalStation.Key)
	payload, unresolved := Resolve(deduped, districts,
		func(s CanonicalStation) string { return s.District.Key() },
		func(s CanonicalStation, districtID int64) model.Station {
			depth := s.WellDepth
			return model.Station{
				Name:                s.Name,
				DistrictID:          districtID,
				Latitude:            s.Latitude,
				Longitude:           s.Longitude,
				AquiferType:         s.AquiferType,
				SpecificYield:       s.SpecificYield,
				WellDepth:           &depth,
				StationStatus:       s.StationStatus,
				StationType:         s.StationType,
				AgencyName:          s.AgencyName,
				DataAcquisitionMode: s.DataAcquisitionMode,
				WellType:            s.WellType,
			}
		},
		log.With(zap.String("stage", string(model.KindStation))),
	)
	counts.Unresolved = unresolved
	counts.Upserted = len(payload)

	out, err := resilience.DoVal(ctx, o.retryFor("upsert_stations"), func(ctx context.Context) (persisted[model.Station], error) {
		res, rows, err := o.sink.UpsertStations(ctx, payload)
		return persisted[model.Station]{res, rows}, err
	})
	if err != nil {
		return nil, counts, stageErr(model.KindStation, err)
	}
	counts.Inserted, counts.Ignored = out.result.Inserted, out.result.Ignored
	return StationIDMap(out.rows, districts), counts, nil
}

// normalizeReadings maps reading records once for both reading stages and
// counts the records that carry no station name or timestamp.
func normalizeReadings(records []RawRecord) ([]CanonicalReading, int) {
	out := make([]CanonicalReading, 0, len(records))
	skipped := 0
	for _, r := range records {
		rd, ok := NormalizeReading(r)
		if !ok {
			skipped++
			continue
		}
		out = append(out, rd)
	}
	return out, skipped
}

func (o *Orchestrator) stageWaterLevels(ctx context.Context, log *zap.Logger, readings []CanonicalReading, stations IDMap) (model.StageCounts, error) {
	defer o.observe(model.KindWaterLevel, time.Now())

	counts := model.StageCounts{Candidates: len(readings)}
	resolved, unresolved := Resolve(readings, stations, CanonicalReading.StationKey,
		func(r CanonicalReading, stationID int64) model.WaterLevelReading {
			return model.WaterLevelReading{
				StationID:   stationID,
				Timestamp:   r.Timestamp,
				WaterLevel:  r.WaterLevel,
				Rainfall:    r.Rainfall,
				Temperature: r.Temperature,
			}
		},
		log.With(zap.String("stage", string(model.KindWaterLevel))),
	)
	counts.Unresolved = unresolved

	payload := Dedupe(resolved, func(r model.WaterLevelReading) string {
		return fmt.Sprintf("%d|%d", r.StationID, r.Timestamp.UnixNano())
	})
	counts.Upserted = len(payload)

	for batch := range slices.Chunk(payload, o.batchSize) {
		res, err := resilience.DoVal(ctx, o.retryFor("upsert_water_levels"), func(ctx context.Context) (store.UpsertResult, error) {
			return o.sink.UpsertWaterLevels(ctx, batch)
		})
		if err != nil {
			return counts, stageErr(model.KindWaterLevel, err)
		}
		counts.Inserted += res.Inserted
		counts.Ignored += res.Ignored
	}
	return counts, nil
}

func (o *Orchestrator) stageRainfall(ctx context.Context, log *zap.Logger, readings []CanonicalReading, stations IDMap) (model.StageCounts, error) {
	defer o.observe(model.KindRainfall, time.Now())

	var counts model.StageCounts
	withRain := make([]CanonicalReading, 0, len(readings))
	for _, r := range readings {
		if r.HasRainfall {
			withRain = append(withRain, r)
		}
	}
	counts.Candidates = len(withRain)

	resolved, unresolved := Resolve(withRain, stations, CanonicalReading.StationKey,
		func(r CanonicalReading, stationID int64) model.RainfallReading {
			return model.RainfallReading{
				StationCode: StationCode(stationID),
				StationName: r.StationName,
				State:       r.District.State,
				District:    r.District.Name,
				DataTime:    r.Timestamp,
				RainfallMM:  r.Rainfall,
			}
		},
		log.With(zap.String("stage", string(model.KindRainfall))),
	)
	counts.Unresolved = unresolved

	payload := Dedupe(resolved, func(r model.RainfallReading) string {
		return fmt.Sprintf("%s|%d", r.StationCode, r.DataTime.UnixNano())
	})
	counts.Upserted = len(payload)

	for batch := range slices.Chunk(payload, o.batchSize) {
		res, err := resilience.DoVal(ctx, o.retryFor("upsert_rainfall"), func(ctx context.Context) (store.UpsertResult, error) {
			return o.sink.UpsertRainfall(ctx, batch)
		})
		if err != nil {
			return counts, stageErr(model.KindRainfall, err)
		}
		counts.Inserted += res.Inserted
		counts.Ignored += res.Ignored
	}
	return counts, nil
}

// StationCode derives the rainfall station code from a station id.
func StationCode(stationID int64) string {
	return fmt.Sprintf("GW-%d", stationID)
}
