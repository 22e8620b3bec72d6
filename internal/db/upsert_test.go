package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var districtCfg = UpsertConfig{
	Table:        "districts",
	Columns:      []string{"district_name", "state"},
	ConflictKeys: []string{"district_name", "state"},
}

func TestBulkInsertIgnore_EmptyRows(t *testing.T) {
	n, err := BulkInsertIgnore(context.TODO(), nil, districtCfg, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkInsertIgnore_NoColumns(t *testing.T) {
	_, err := BulkInsertIgnore(context.TODO(), nil, UpsertConfig{
		Table:        "districts",
		ConflictKeys: []string{"district_name"},
	}, [][]any{{"Karnal", "Haryana"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkInsertIgnore_NoConflictKeys(t *testing.T) {
	_, err := BulkInsertIgnore(context.TODO(), nil, UpsertConfig{
		Table:   "districts",
		Columns: []string{"district_name", "state"},
	}, [][]any{{"Karnal", "Haryana"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkInsertIgnore_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_districts" ON COMMIT DROP AS SELECT "district_name", "state" FROM "districts" WITH NO DATA`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_districts"}, districtCfg.Columns).WillReturnResult(2)
	mock.ExpectExec(`ON CONFLICT \("district_name", "state"\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rows := [][]any{{"Karnal", "Haryana"}, {"Raipur", "Chhattisgarh"}}
	n, err := BulkInsertIgnore(context.Background(), mock, districtCfg, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertIgnore_InsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_districts"}, districtCfg.Columns).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "districts"`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err = BulkInsertIgnore(context.Background(), mock, districtCfg, [][]any{{"Karnal", "Haryana"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSERT ON CONFLICT for districts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTempTableName(t *testing.T) {
	assert.Equal(t, "_tmp_upsert_districts", TempTableName("districts"))
	assert.Equal(t, "_tmp_upsert_public_stations", TempTableName("public.stations"))
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.water_levels", `"public"."water_levels"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"station_id", "timestamp"})
	assert.Equal(t, `"station_id", "timestamp"`, result)
}
