package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

var mar10 = civil.Date{Year: 2024, Month: 3, Day: 10}

func newMockStore(t *testing.T) (*RaceStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewRaceStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func sample(raceNo int, place string) crawler.RaceRecord {
	return crawler.RaceRecord{
		Date:             mar10,
		RaceNo:           raceNo,
		Place:            place,
		HorseNo:          "4",
		HorseName:        "金鑽貴人",
		Jockey:           "潘頓",
		Trainer:          "呂健威",
		DeclaredWeight:   1098,
		ActualWeight:     133,
		Draw:             9,
		WinningMargin:    "1-1/4",
		RunningPositions: "3 2 1",
		FinishTime:       "1:09.45",
		WinOdds:          3.6,
	}
}

func rowValues(r crawler.RaceRecord) []any {
	return []any{
		r.Date.In(time.UTC), r.RaceNo, r.Place, r.HorseNo, r.HorseName, r.Jockey, r.Trainer,
		r.DeclaredWeight, r.ActualWeight, r.Draw, r.WinningMargin, r.RunningPositions, r.FinishTime, r.WinOdds,
	}
}

func TestNewRaceStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRaceStoreWithPool(mock, "race_results; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewRaceStoreWithPool(nil, "")
	require.Error(t, err)

	store, err := NewRaceStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, DefaultTable, store.table)
}

func TestNewRaceStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewRaceStore(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS race_results`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS race_results_race_idx ON race_results (race_date, race_no)`)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRecorded(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	query := regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM race_results WHERE race_date = $1 AND race_no = $2)`)
	mock.ExpectQuery(query).
		WithArgs(mar10.In(time.UTC), 3).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(query).
		WithArgs(mar10.In(time.UTC), 4).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := store.IsRecorded(context.Background(), mar10, 3)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.IsRecorded(context.Background(), mar10, 4)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRecordedError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).WillReturnError(errors.New("conn closed"))

	_, err := store.IsRecorded(context.Background(), mar10, 1)
	require.ErrorContains(t, err, "check race recorded")
}

func TestBulkInsertCopiesRows(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"race_results"}, copyColumns).WillReturnResult(2)

	err := store.BulkInsert(context.Background(), []crawler.RaceRecord{sample(1, "1"), sample(1, "2")})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertShortCopy(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"race_results"}, copyColumns).WillReturnResult(1)

	err := store.BulkInsert(context.Background(), []crawler.RaceRecord{sample(1, "1"), sample(1, "2")})
	require.ErrorContains(t, err, "wrote 1 of 2")
}

func TestBulkInsertEmptyIsNoop(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	require.NoError(t, store.BulkInsert(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRaces(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	first, second := sample(1, "1"), sample(2, "1")
	mock.ExpectQuery(`SELECT race_date, race_no, .* FROM race_results ORDER BY race_date, race_no, id`).
		WillReturnRows(pgxmock.NewRows(copyColumns).AddRow(rowValues(first)...).AddRow(rowValues(second)...))

	got, err := store.ListRaces(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.RaceRecord{first, second}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRacesByDate(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rec := sample(7, "3")
	mock.ExpectQuery(`FROM race_results WHERE race_date = \$1 ORDER BY race_no, id`).
		WithArgs(mar10.In(time.UTC)).
		WillReturnRows(pgxmock.NewRows(copyColumns).AddRow(rowValues(rec)...))
	mock.ExpectQuery(`FROM race_results WHERE race_date = \$1 AND race_no = \$2 ORDER BY id`).
		WithArgs(mar10.In(time.UTC), 7).
		WillReturnRows(pgxmock.NewRows(copyColumns))

	got, err := store.ListRacesByDate(context.Background(), mar10, nil)
	require.NoError(t, err)
	require.Equal(t, []crawler.RaceRecord{rec}, got)

	seven := 7
	got, err = store.ListRacesByDate(context.Background(), mar10, &seven)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewRaceStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
}
