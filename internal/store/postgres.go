package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/groundwater/internal/db"
	"github.com/sells-group/groundwater/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS districts (
	district_id   BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	district_name TEXT NOT NULL,
	state         TEXT NOT NULL,
	UNIQUE (district_name, state)
);

CREATE TABLE IF NOT EXISTS stations (
	station_id            BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	station_name          TEXT NOT NULL,
	district_id           BIGINT NOT NULL REFERENCES districts(district_id),
	latitude              DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude             DOUBLE PRECISION NOT NULL DEFAULT 0,
	aquifer_type          TEXT NOT NULL DEFAULT 'Unknown',
	specific_yield        DOUBLE PRECISION NOT NULL DEFAULT 0.15,
	well_depth            DOUBLE PRECISION CHECK (well_depth IS NULL OR well_depth > 0),
	station_status        TEXT NOT NULL DEFAULT 'Active',
	station_type          TEXT NOT NULL DEFAULT 'Observation',
	agency_name           TEXT NOT NULL DEFAULT 'CGWB',
	data_acquisition_mode TEXT NOT NULL DEFAULT 'Manual',
	well_type             TEXT NOT NULL DEFAULT 'Open',
	UNIQUE (station_name, district_id)
);

CREATE INDEX IF NOT EXISTS idx_stations_district_id ON stations(district_id);

CREATE TABLE IF NOT EXISTS water_levels (
	station_id  BIGINT NOT NULL REFERENCES stations(station_id),
	"timestamp" TIMESTAMPTZ NOT NULL,
	water_level DOUBLE PRECISION NOT NULL,
	rainfall    DOUBLE PRECISION NOT NULL DEFAULT 0,
	temperature DOUBLE PRECISION NOT NULL DEFAULT 25,
	season      TEXT,
	PRIMARY KEY (station_id, "timestamp")
);

CREATE TABLE IF NOT EXISTS rainfall (
	rainfall_id  BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	station_code TEXT NOT NULL,
	station_name TEXT NOT NULL,
	state        TEXT NOT NULL,
	district     TEXT NOT NULL,
	data_time    TIMESTAMPTZ NOT NULL,
	rainfall_mm  DOUBLE PRECISION NOT NULL,
	UNIQUE (station_code, data_time)
);

CREATE TABLE IF NOT EXISTS users (
	user_id       BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	occupation    TEXT NOT NULL CHECK (occupation IN ('farmer','researcher','government_official','student','ngo_worker','other')),
	location      TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	counts       JSONB,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at DESC);
`

var (
	districtUpsert = db.UpsertConfig{
		Table:        "districts",
		Columns:      []string{"district_name", "state"},
		ConflictKeys: []string{"district_name", "state"},
	}
	stationUpsert = db.UpsertConfig{
		Table: "stations",
		Columns: []string{
			"station_name", "district_id", "latitude", "longitude", "aquifer_type",
			"specific_yield", "well_depth", "station_status", "station_type",
			"agency_name", "data_acquisition_mode", "well_type",
		},
		ConflictKeys: []string{"station_name", "district_id"},
	}
	waterLevelUpsert = db.UpsertConfig{
		Table:        "water_levels",
		Columns:      []string{"station_id", "timestamp", "water_level", "rainfall", "temperature", "season"},
		ConflictKeys: []string{"station_id", "timestamp"},
	}
	rainfallUpsert = db.UpsertConfig{
		Table:        "rainfall",
		Columns:      []string{"station_code", "station_name", "state", "district", "data_time", "rainfall_mm"},
		ConflictKeys: []string{"station_code", "data_time"},
	}
)

const stationColumns = `station_id, station_name, district_id, latitude, longitude, aquifer_type,
	specific_yield, well_depth, station_status, station_type, agency_name,
	data_acquisition_mode, well_type`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Reads ---

func (s *PostgresStore) ListDistricts(ctx context.Context, filter DistrictFilter) ([]model.District, error) {
	query := `SELECT district_id, district_name, state FROM districts`
	var args []any
	if !filter.Search.Empty() {
		contains, prefix := filter.Search.LikePatterns()
		query += ` WHERE district_name ILIKE $1 OR state ILIKE $1 OR district_name ILIKE $2 OR state ILIKE $2`
		args = append(args, contains, prefix)
	}
	query += ` ORDER BY state, district_name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list districts")
	}
	defer rows.Close()

	var out []model.District
	for rows.Next() {
		var d model.District
		if err := rows.Scan(&d.ID, &d.Name, &d.State); err != nil {
			return nil, eris.Wrap(err, "postgres: scan district")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list districts iterate")
}

func (s *PostgresStore) ListStationsByDistricts(ctx context.Context, districtIDs []int64) ([]model.Station, error) {
	if len(districtIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+stationColumns+` FROM stations WHERE district_id = ANY($1) ORDER BY station_id`,
		districtIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stations")
	}
	return collectStations(rows)
}

func (s *PostgresStore) LatestReadings(ctx context.Context, stationID int64, limit int) ([]model.WaterLevelReading, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT station_id, "timestamp", water_level, rainfall, temperature, season
		 FROM water_levels WHERE station_id = $1 ORDER BY "timestamp" DESC LIMIT $2`,
		stationID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest readings for station %d", stationID)
	}
	defer rows.Close()

	var out []model.WaterLevelReading
	for rows.Next() {
		var r model.WaterLevelReading
		if err := rows.Scan(&r.StationID, &r.Timestamp, &r.WaterLevel, &r.Rainfall, &r.Temperature, &r.Season); err != nil {
			return nil, eris.Wrap(err, "postgres: scan reading")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: latest readings iterate")
}

func collectStations(rows pgx.Rows) ([]model.Station, error) {
	defer rows.Close()

	var out []model.Station
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(
			&st.ID, &st.Name, &st.DistrictID, &st.Latitude, &st.Longitude, &st.AquiferType,
			&st.SpecificYield, &st.WellDepth, &st.StationStatus, &st.StationType, &st.AgencyName,
			&st.DataAcquisitionMode, &st.WellType,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan station")
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: stations iterate")
}

// --- Users ---

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, username, password_hash, occupation, location, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Occupation, &u.Location, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get user")
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, occupation, location) VALUES ($1, $2, $3, $4)
		 RETURNING user_id, created_at`,
		u.Username, u.PasswordHash, string(u.Occupation), u.Location,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrUsernameTaken
		}
		return eris.Wrap(err, "postgres: insert user")
	}
	return nil
}

// --- Ingestion ---

func (s *PostgresStore) UpsertDistricts(ctx context.Context, districts []model.District) (UpsertResult, []model.District, error) {
	if len(districts) == 0 {
		return UpsertResult{}, nil, nil
	}
	rows := make([][]any, len(districts))
	names := make([]string, len(districts))
	states := make([]string, len(districts))
	for i, d := range districts {
		rows[i] = []any{d.Name, d.State}
		names[i], states[i] = d.Name, d.State
	}

	n, err := db.BulkInsertIgnore(ctx, s.pool, districtUpsert, rows)
	if err != nil {
		return UpsertResult{}, nil, err
	}

	res, err := s.pool.Query(ctx,
		`SELECT district_id, district_name, state FROM districts
		 WHERE (district_name, state) IN (SELECT * FROM unnest($1::text[], $2::text[]))`,
		names, states,
	)
	if err != nil {
		return UpsertResult{}, nil, eris.Wrap(err, "postgres: resolve district ids")
	}
	defer res.Close()

	persisted := make([]model.District, 0, len(districts))
	for res.Next() {
		var d model.District
		if err := res.Scan(&d.ID, &d.Name, &d.State); err != nil {
			return UpsertResult{}, nil, eris.Wrap(err, "postgres: scan district")
		}
		persisted = append(persisted, d)
	}
	if err := res.Err(); err != nil {
		return UpsertResult{}, nil, eris.Wrap(err, "postgres: resolve district ids iterate")
	}
	return newUpsertResult(len(districts), n), persisted, nil
}

func (s *PostgresStore) UpsertStations(ctx context.Context, stations []model.Station) (UpsertResult, []model.Station, error) {
	if len(stations) == 0 {
		return UpsertResult{}, nil, nil
	}
	rows := make([][]any, len(stations))
	names := make([]string, len(stations))
	districtIDs := make([]int64, len(stations))
	for i, st := range stations {
		rows[i] = []any{
			st.Name, st.DistrictID, st.Latitude, st.Longitude, st.AquiferType,
			st.SpecificYield, st.WellDepth, st.StationStatus, st.StationType,
			st.AgencyName, st.DataAcquisitionMode, st.WellType,
		}
		names[i], districtIDs[i] = st.Name, st.DistrictID
	}

	n, err := db.BulkInsertIgnore(ctx, s.pool, stationUpsert, rows)
	if err != nil {
		return UpsertResult{}, nil, err
	}

	res, err := s.pool.Query(ctx,
		`SELECT `+stationColumns+` FROM stations
		 WHERE (station_name, district_id) IN (SELECT * FROM unnest($1::text[], $2::bigint[]))`,
		names, districtIDs,
	)
	if err != nil {
		return UpsertResult{}, nil, eris.Wrap(err, "postgres: resolve station ids")
	}
	persisted, err := collectStations(res)
	if err != nil {
		return UpsertResult{}, nil, err
	}
	return newUpsertResult(len(stations), n), persisted, nil
}

func (s *PostgresStore) UpsertWaterLevels(ctx context.Context, readings []model.WaterLevelReading) (UpsertResult, error) {
	rows := make([][]any, len(readings))
	for i, r := range readings {
		rows[i] = []any{r.StationID, r.Timestamp.UTC(), r.WaterLevel, r.Rainfall, r.Temperature, r.Season}
	}
	n, err := db.BulkInsertIgnore(ctx, s.pool, waterLevelUpsert, rows)
	if err != nil {
		return UpsertResult{}, err
	}
	return newUpsertResult(len(readings), n), nil
}

func (s *PostgresStore) UpsertRainfall(ctx context.Context, readings []model.RainfallReading) (UpsertResult, error) {
	rows := make([][]any, len(readings))
	for i, r := range readings {
		rows[i] = []any{r.StationCode, r.StationName, r.State, r.District, r.DataTime.UTC(), r.RainfallMM}
	}
	n, err := db.BulkInsertIgnore(ctx, s.pool, rainfallUpsert, rows)
	if err != nil {
		return UpsertResult{}, err
	}
	return newUpsertResult(len(readings), n), nil
}

func (s *PostgresStore) CountRows(ctx context.Context, kind model.EntityKind) (int64, error) {
	table, ok := tableFor(kind)
	if !ok {
		return 0, eris.Errorf("postgres: unknown entity kind %q", kind)
	}
	var n int64
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", pgx.Identifier{table}.Sanitize())).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count %s", table)
}

// --- Run log ---

func (s *PostgresStore) StartIngestRun(ctx context.Context) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		id, string(model.IngestStatusRunning), time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: start ingest run")
	}
	return id, nil
}

func (s *PostgresStore) CompleteIngestRun(ctx context.Context, runID string, counts map[model.EntityKind]model.StageCounts) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, completed_at = $2, counts = $3 WHERE id = $4`,
		string(model.IngestStatusComplete), time.Now().UTC(), countsJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete ingest run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ingest run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailIngestRun(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(model.IngestStatusFailed), time.Now().UTC(), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail ingest run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ingest run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListIngestRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, started_at, completed_at, counts, error
		 FROM ingest_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingest runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var countsJSON []byte
		var errMsg *string
		if err := rows.Scan(&r.ID, &r.Status, &r.StartedAt, &r.CompletedAt, &countsJSON, &errMsg); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingest run")
		}
		if len(countsJSON) > 0 {
			if err := json.Unmarshal(countsJSON, &r.Counts); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal counts")
			}
		}
		if errMsg != nil {
			r.Error = *errMsg
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list ingest runs iterate")
}
