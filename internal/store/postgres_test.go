package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/groundwater/internal/model"
	"github.com/sells-group/groundwater/internal/search"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func expectBulkInsert(mock pgxmock.PgxPoolIface, table string, columns []string, inserted int64) {
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_" + table}, columns).WillReturnResult(inserted)
	mock.ExpectExec(`INSERT INTO "` + table + `"`).WillReturnResult(pgxmock.NewResult("INSERT", inserted))
	mock.ExpectCommit()
}

func TestPostgresStore_ListDistricts_NoSearch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT district_id, district_name, state FROM districts ORDER BY state, district_name`).
		WillReturnRows(pgxmock.NewRows([]string{"district_id", "district_name", "state"}).
			AddRow(int64(2), "Raipur", "Chhattisgarh").
			AddRow(int64(1), "Karnal", "Haryana"))

	got, err := s.ListDistricts(context.Background(), DistrictFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Raipur", got[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListDistricts_Search(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE district_name ILIKE \$1 OR state ILIKE \$1 OR district_name ILIKE \$2 OR state ILIKE \$2`).
		WithArgs("%bangalore%", "bangalore%").
		WillReturnRows(pgxmock.NewRows([]string{"district_id", "district_name", "state"}).
			AddRow(int64(9), "Bangalore Urban", "Karnataka"))

	got, err := s.ListDistricts(context.Background(), DistrictFilter{Search: search.NewTerm("bangalore")})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(9), got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListStationsByDistricts_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	got, err := s.ListStationsByDistricts(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListStationsByDistricts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	depth := 40.0
	mock.ExpectQuery(`FROM stations WHERE district_id = ANY\(\$1\)`).
		WithArgs([]int64{1, 2}).
		WillReturnRows(pgxmock.NewRows([]string{
			"station_id", "station_name", "district_id", "latitude", "longitude", "aquifer_type",
			"specific_yield", "well_depth", "station_status", "station_type", "agency_name",
			"data_acquisition_mode", "well_type",
		}).AddRow(int64(5), "Rajghat_1", int64(1), 21.5, 86.8, "Alluvial", 0.15, &depth, "Active", "Observation", "CGWB", "Manual", "Open"))

	got, err := s.ListStationsByDistricts(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].WellDepth)
	assert.Equal(t, 40.0, *got[0].WellDepth)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestReadings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`FROM water_levels WHERE station_id = \$1 ORDER BY "timestamp" DESC LIMIT \$2`).
		WithArgs(int64(5), 2).
		WillReturnRows(pgxmock.NewRows([]string{"station_id", "timestamp", "water_level", "rainfall", "temperature", "season"}).
			AddRow(int64(5), now, -4.0, 1.2, 26.0, (*string)(nil)).
			AddRow(int64(5), now.Add(-24*time.Hour), -10.0, 0.0, 25.0, (*string)(nil)))

	got, err := s.LatestReadings(context.Background(), 5, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, -4.0, got[0].WaterLevel)
	assert.True(t, got[0].Timestamp.After(got[1].Timestamp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUserByUsername_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM users WHERE username = \$1`).
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	u, err := s.GetUserByUsername(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateUser(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	created := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("asha", "hash", "farmer", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "created_at"}).AddRow(int64(11), created))

	u := &model.User{Username: "asha", PasswordHash: "hash", Occupation: model.OccupationFarmer}
	require.NoError(t, s.CreateUser(context.Background(), u))
	assert.Equal(t, int64(11), u.ID)
	assert.Equal(t, created, u.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateUser_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("asha", "", "farmer", pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateUser(context.Background(), &model.User{Username: "asha", Occupation: model.OccupationFarmer})
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertDistricts_ResolvesAllKeys(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	expectBulkInsert(mock, "districts", districtUpsert.Columns, 1)
	mock.ExpectQuery(`FROM districts\s+WHERE \(district_name, state\) IN \(SELECT \* FROM unnest`).
		WithArgs([]string{"Karnal", "Raipur"}, []string{"Haryana", "Chhattisgarh"}).
		WillReturnRows(pgxmock.NewRows([]string{"district_id", "district_name", "state"}).
			AddRow(int64(1), "Karnal", "Haryana").
			AddRow(int64(2), "Raipur", "Chhattisgarh"))

	res, persisted, err := s.UpsertDistricts(context.Background(), []model.District{
		{Name: "Karnal", State: "Haryana"},
		{Name: "Raipur", State: "Chhattisgarh"},
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 1, Ignored: 1}, res)
	assert.Len(t, persisted, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertDistricts_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	res, persisted, err := s.UpsertDistricts(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Nil(t, persisted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertWaterLevels_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	_, err := s.UpsertWaterLevels(context.Background(), []model.WaterLevelReading{
		{StationID: 1, Timestamp: time.Now(), WaterLevel: -3},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRainfall(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	expectBulkInsert(mock, "rainfall", rainfallUpsert.Columns, 2)

	res, err := s.UpsertRainfall(context.Background(), []model.RainfallReading{
		{StationCode: "GW-1", DataTime: time.Now(), RainfallMM: 3},
		{StationCode: "GW-1", DataTime: time.Now().Add(-time.Hour), RainfallMM: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 2, Ignored: 0}, res)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "water_levels"`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(300)))

	n, err := s.CountRows(context.Background(), model.KindWaterLevel)
	require.NoError(t, err)
	assert.Equal(t, int64(300), n)

	_, err = s.CountRows(context.Background(), "users")
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IngestRunLifecycle(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO ingest_runs`).
		WithArgs(pgxmock.AnyArg(), "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE ingest_runs SET status = \$1, completed_at = \$2, counts = \$3`).
		WithArgs("complete", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	id, err := s.StartIngestRun(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	err = s.CompleteIngestRun(context.Background(), id, map[model.EntityKind]model.StageCounts{
		model.KindDistrict: {Candidates: 3, Inserted: 3},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailIngestRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingest_runs SET status = \$1, completed_at = \$2, error = \$3`).
		WithArgs("failed", pgxmock.AnyArg(), "stations: boom", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FailIngestRun(context.Background(), "missing", "stations: boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingest run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
