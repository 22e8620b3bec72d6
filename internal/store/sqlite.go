package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/groundwater/internal/model"
)

// sqliteTime is fixed-width so lexical order equals chronological order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// development and the end-to-end tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer connection avoids SQLITE_BUSY between concurrent stages.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS districts (
	district_id   INTEGER PRIMARY KEY AUTOINCREMENT,
	district_name TEXT NOT NULL,
	state         TEXT NOT NULL,
	UNIQUE (district_name, state)
);

CREATE TABLE IF NOT EXISTS stations (
	station_id            INTEGER PRIMARY KEY AUTOINCREMENT,
	station_name          TEXT NOT NULL,
	district_id           INTEGER NOT NULL REFERENCES districts(district_id),
	latitude              REAL NOT NULL DEFAULT 0,
	longitude             REAL NOT NULL DEFAULT 0,
	aquifer_type          TEXT NOT NULL DEFAULT 'Unknown',
	specific_yield        REAL NOT NULL DEFAULT 0.15,
	well_depth            REAL CHECK (well_depth IS NULL OR well_depth > 0),
	station_status        TEXT NOT NULL DEFAULT 'Active',
	station_type          TEXT NOT NULL DEFAULT 'Observation',
	agency_name           TEXT NOT NULL DEFAULT 'CGWB',
	data_acquisition_mode TEXT NOT NULL DEFAULT 'Manual',
	well_type             TEXT NOT NULL DEFAULT 'Open',
	UNIQUE (station_name, district_id)
);

CREATE INDEX IF NOT EXISTS idx_stations_district_id ON stations(district_id);

CREATE TABLE IF NOT EXISTS water_levels (
	station_id  INTEGER NOT NULL REFERENCES stations(station_id),
	timestamp   TEXT NOT NULL,
	water_level REAL NOT NULL,
	rainfall    REAL NOT NULL DEFAULT 0,
	temperature REAL NOT NULL DEFAULT 25,
	season      TEXT,
	PRIMARY KEY (station_id, timestamp)
);

CREATE TABLE IF NOT EXISTS rainfall (
	rainfall_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	station_code TEXT NOT NULL,
	station_name TEXT NOT NULL,
	state        TEXT NOT NULL,
	district     TEXT NOT NULL,
	data_time    TEXT NOT NULL,
	rainfall_mm  REAL NOT NULL,
	UNIQUE (station_code, data_time)
);

CREATE TABLE IF NOT EXISTS users (
	user_id       INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	occupation    TEXT NOT NULL,
	location      TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	counts       TEXT,
	error        TEXT
);
`

const sqliteStationColumns = `station_id, station_name, district_id, latitude, longitude, aquifer_type,
	specific_yield, well_depth, station_status, station_type, agency_name,
	data_acquisition_mode, well_type`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Reads ---

// ListDistricts filters in Go so that non-ASCII terms fold the same way
// they do elsewhere; SQLite's LIKE only folds ASCII.
func (s *SQLiteStore) ListDistricts(ctx context.Context, filter DistrictFilter) ([]model.District, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT district_id, district_name, state FROM districts ORDER BY state, district_name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list districts")
	}
	defer rows.Close()

	var out []model.District
	for rows.Next() {
		var d model.District
		if err := rows.Scan(&d.ID, &d.Name, &d.State); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan district")
		}
		if filter.Search.Match(d.Name, d.State) {
			out = append(out, d)
		}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list districts iterate")
}

func (s *SQLiteStore) ListStationsByDistricts(ctx context.Context, districtIDs []int64) ([]model.Station, error) {
	if len(districtIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(districtIDs)), ",")
	args := make([]any, len(districtIDs))
	for i, id := range districtIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteStationColumns+` FROM stations WHERE district_id IN (`+placeholders+`) ORDER BY station_id`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stations")
	}
	defer rows.Close()

	var out []model.Station
	for rows.Next() {
		st, err := scanSQLiteStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list stations iterate")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteStation(row rowScanner) (model.Station, error) {
	var st model.Station
	var wellDepth sql.NullFloat64
	if err := row.Scan(
		&st.ID, &st.Name, &st.DistrictID, &st.Latitude, &st.Longitude, &st.AquiferType,
		&st.SpecificYield, &wellDepth, &st.StationStatus, &st.StationType, &st.AgencyName,
		&st.DataAcquisitionMode, &st.WellType,
	); err != nil {
		return model.Station{}, eris.Wrap(err, "sqlite: scan station")
	}
	if wellDepth.Valid {
		st.WellDepth = &wellDepth.Float64
	}
	return st, nil
}

func (s *SQLiteStore) LatestReadings(ctx context.Context, stationID int64, limit int) ([]model.WaterLevelReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT station_id, timestamp, water_level, rainfall, temperature, season
		 FROM water_levels WHERE station_id = ? ORDER BY timestamp DESC LIMIT ?`,
		stationID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest readings for station %d", stationID)
	}
	defer rows.Close()

	var out []model.WaterLevelReading
	for rows.Next() {
		var r model.WaterLevelReading
		var ts string
		var season sql.NullString
		if err := rows.Scan(&r.StationID, &ts, &r.WaterLevel, &r.Rainfall, &r.Temperature, &season); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan reading")
		}
		if r.Timestamp, err = time.Parse(sqliteTime, ts); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse timestamp %q", ts)
		}
		if season.Valid {
			r.Season = &season.String
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: latest readings iterate")
}

// --- Users ---

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	var location sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, password_hash, occupation, location, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Occupation, &location, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get user")
	}
	if location.Valid {
		u.Location = &location.String
	}
	u.CreatedAt, _ = time.Parse(sqliteTime, createdAt)
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, occupation, location, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.PasswordHash, string(u.Occupation), u.Location, now.Format(sqliteTime),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrUsernameTaken
		}
		return eris.Wrap(err, "sqlite: insert user")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: user id")
	}
	u.ID = id
	u.CreatedAt = now
	return nil
}

// --- Ingestion ---

// insertIgnore runs stmt once per row inside a transaction and returns the
// number of rows actually inserted. resolve, when set, runs inside the same
// transaction after every insert.
func (s *SQLiteStore) insertIgnore(ctx context.Context, op, stmt string, rows [][]any, resolve func(tx *sql.Tx) error) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: begin tx", op)
	}
	defer tx.Rollback() //nolint:errcheck

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: prepare", op)
	}
	defer prepared.Close()

	var inserted int64
	for _, row := range rows {
		res, err := prepared.ExecContext(ctx, row...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: %s: insert", op)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: %s: rows affected", op)
		}
		inserted += n
	}

	if resolve != nil {
		if err := resolve(tx); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: %s: commit", op)
	}
	return inserted, nil
}

func (s *SQLiteStore) UpsertDistricts(ctx context.Context, districts []model.District) (UpsertResult, []model.District, error) {
	rows := make([][]any, len(districts))
	for i, d := range districts {
		rows[i] = []any{d.Name, d.State}
	}

	persisted := make([]model.District, 0, len(districts))
	n, err := s.insertIgnore(ctx, "upsert districts",
		`INSERT INTO districts (district_name, state) VALUES (?, ?) ON CONFLICT (district_name, state) DO NOTHING`,
		rows,
		func(tx *sql.Tx) error {
			for _, d := range districts {
				out := d
				if err := tx.QueryRowContext(ctx,
					`SELECT district_id FROM districts WHERE district_name = ? AND state = ?`, d.Name, d.State,
				).Scan(&out.ID); err != nil {
					return eris.Wrapf(err, "sqlite: resolve district %s|%s", d.Name, d.State)
				}
				persisted = append(persisted, out)
			}
			return nil
		},
	)
	if err != nil {
		return UpsertResult{}, nil, err
	}
	return newUpsertResult(len(districts), n), persisted, nil
}

func (s *SQLiteStore) UpsertStations(ctx context.Context, stations []model.Station) (UpsertResult, []model.Station, error) {
	rows := make([][]any, len(stations))
	for i, st := range stations {
		rows[i] = []any{
			st.Name, st.DistrictID, st.Latitude, st.Longitude, st.AquiferType,
			st.SpecificYield, st.WellDepth, st.StationStatus, st.StationType,
			st.AgencyName, st.DataAcquisitionMode, st.WellType,
		}
	}

	persisted := make([]model.Station, 0, len(stations))
	n, err := s.insertIgnore(ctx, "upsert stations",
		`INSERT INTO stations (station_name, district_id, latitude, longitude, aquifer_type,
			specific_yield, well_depth, station_status, station_type, agency_name,
			data_acquisition_mode, well_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (station_name, district_id) DO NOTHING`,
		rows,
		func(tx *sql.Tx) error {
			for _, st := range stations {
				row := tx.QueryRowContext(ctx,
					`SELECT `+sqliteStationColumns+` FROM stations WHERE station_name = ? AND district_id = ?`,
					st.Name, st.DistrictID,
				)
				got, err := scanSQLiteStation(row)
				if err != nil {
					return eris.Wrapf(err, "sqlite: resolve station %s in district %d", st.Name, st.DistrictID)
				}
				persisted = append(persisted, got)
			}
			return nil
		},
	)
	if err != nil {
		return UpsertResult{}, nil, err
	}
	return newUpsertResult(len(stations), n), persisted, nil
}

func (s *SQLiteStore) UpsertWaterLevels(ctx context.Context, readings []model.WaterLevelReading) (UpsertResult, error) {
	rows := make([][]any, len(readings))
	for i, r := range readings {
		rows[i] = []any{r.StationID, r.Timestamp.UTC().Format(sqliteTime), r.WaterLevel, r.Rainfall, r.Temperature, r.Season}
	}
	n, err := s.insertIgnore(ctx, "upsert water levels",
		`INSERT INTO water_levels (station_id, timestamp, water_level, rainfall, temperature, season)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (station_id, timestamp) DO NOTHING`,
		rows, nil,
	)
	if err != nil {
		return UpsertResult{}, err
	}
	return newUpsertResult(len(readings), n), nil
}

func (s *SQLiteStore) UpsertRainfall(ctx context.Context, readings []model.RainfallReading) (UpsertResult, error) {
	rows := make([][]any, len(readings))
	for i, r := range readings {
		rows[i] = []any{r.StationCode, r.StationName, r.State, r.District, r.DataTime.UTC().Format(sqliteTime), r.RainfallMM}
	}
	n, err := s.insertIgnore(ctx, "upsert rainfall",
		`INSERT INTO rainfall (station_code, station_name, state, district, data_time, rainfall_mm)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (station_code, data_time) DO NOTHING`,
		rows, nil,
	)
	if err != nil {
		return UpsertResult{}, err
	}
	return newUpsertResult(len(readings), n), nil
}

func (s *SQLiteStore) CountRows(ctx context.Context, kind model.EntityKind) (int64, error) {
	table, ok := tableFor(kind)
	if !ok {
		return 0, eris.Errorf("sqlite: unknown entity kind %q", kind)
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+table).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count %s", table)
}

// --- Run log ---

func (s *SQLiteStore) StartIngestRun(ctx context.Context) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, status, started_at) VALUES (?, ?, ?)`,
		id, string(model.IngestStatusRunning), time.Now().UTC().Format(sqliteTime),
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: start ingest run")
	}
	return id, nil
}

func (s *SQLiteStore) CompleteIngestRun(ctx context.Context, runID string, counts map[model.EntityKind]model.StageCounts) error {
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, completed_at = ?, counts = ? WHERE id = ?`,
		string(model.IngestStatusComplete), time.Now().UTC().Format(sqliteTime), string(countsJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete ingest run %s", runID)
	}
	return checkRowsAffected(res, "ingest run", runID)
}

func (s *SQLiteStore) FailIngestRun(ctx context.Context, runID string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.IngestStatusFailed), time.Now().UTC().Format(sqliteTime), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail ingest run %s", runID)
	}
	return checkRowsAffected(res, "ingest run", runID)
}

func (s *SQLiteStore) ListIngestRuns(ctx context.Context, limit int) ([]model.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, started_at, completed_at, counts, error
		 FROM ingest_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingest runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var r model.IngestRun
		var startedAt string
		var completedAt, countsJSON, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.Status, &startedAt, &completedAt, &countsJSON, &errMsg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingest run")
		}
		r.StartedAt, _ = time.Parse(sqliteTime, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(sqliteTime, completedAt.String)
			r.CompletedAt = &t
		}
		if countsJSON.Valid && countsJSON.String != "" {
			if err := json.Unmarshal([]byte(countsJSON.String), &r.Counts); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal counts")
			}
		}
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list ingest runs iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
