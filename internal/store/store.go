package store

import (
	"context"
	"errors"

	"github.com/sells-group/groundwater/internal/model"
	"github.com/sells-group/groundwater/internal/search"
)

// ErrUsernameTaken is returned by CreateUser when the username already exists.
var ErrUsernameTaken = errors.New("store: username already exists")

// DistrictFilter specifies criteria for listing districts.
type DistrictFilter struct {
	Search search.Term
}

// UpsertResult counts the outcome of an insert-or-ignore batch.
type UpsertResult struct {
	Inserted int64 `json:"inserted"`
	Ignored  int64 `json:"ignored"`
}

func newUpsertResult(total int, inserted int64) UpsertResult {
	return UpsertResult{Inserted: inserted, Ignored: int64(total) - inserted}
}

// Reader is the select-only surface used by the dashboard.
type Reader interface {
	// ListDistricts returns districts ordered by state then name.
	ListDistricts(ctx context.Context, filter DistrictFilter) ([]model.District, error)
	// ListStationsByDistricts returns stations owned by any of districtIDs.
	ListStationsByDistricts(ctx context.Context, districtIDs []int64) ([]model.Station, error)
	// LatestReadings returns up to limit readings, newest first.
	LatestReadings(ctx context.Context, stationID int64, limit int) ([]model.WaterLevelReading, error)
}

// UserStore persists dashboard accounts.
type UserStore interface {
	// GetUserByUsername returns nil, nil when no such user exists.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	// CreateUser inserts u and fills its ID and CreatedAt.
	CreateUser(ctx context.Context, u *model.User) error
}

// Writer is the ingestion surface. Every upsert ignores rows whose natural
// key already exists. District and station upserts return the persisted rows
// for every payload key, whether inserted now or previously.
type Writer interface {
	UpsertDistricts(ctx context.Context, districts []model.District) (UpsertResult, []model.District, error)
	UpsertStations(ctx context.Context, stations []model.Station) (UpsertResult, []model.Station, error)
	UpsertWaterLevels(ctx context.Context, readings []model.WaterLevelReading) (UpsertResult, error)
	UpsertRainfall(ctx context.Context, readings []model.RainfallReading) (UpsertResult, error)
	CountRows(ctx context.Context, kind model.EntityKind) (int64, error)
}

// RunLog records ingestion runs.
type RunLog interface {
	StartIngestRun(ctx context.Context) (string, error)
	CompleteIngestRun(ctx context.Context, runID string, counts map[model.EntityKind]model.StageCounts) error
	FailIngestRun(ctx context.Context, runID string, errMsg string) error
	ListIngestRuns(ctx context.Context, limit int) ([]model.IngestRun, error)
}

// Store defines the full persistence interface.
type Store interface {
	Reader
	UserStore
	Writer
	RunLog

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// tableFor maps an entity kind to its table name.
func tableFor(kind model.EntityKind) (string, bool) {
	switch kind {
	case model.KindDistrict:
		return "districts", true
	case model.KindStation:
		return "stations", true
	case model.KindWaterLevel:
		return "water_levels", true
	case model.KindRainfall:
		return "rainfall", true
	}
	return "", false
}
