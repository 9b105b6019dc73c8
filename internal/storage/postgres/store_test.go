package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newswire-ingest/internal/ingest"
)

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "titles")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad-table;drop")
	require.Error(t, err)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "titles", store.table)
}

func TestSaveRecordsUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "titles")
	require.NoError(t, err)

	seen := time.Unix(1760000000, 0).UTC()
	records := []ingest.TitledRecord{
		{Title: "Breaking: AI News", Normalized: "breaking: ai news", FirstSeen: seen},
		{Title: "", Normalized: "", FirstSeen: seen}, // skipped: no normalized key
		{Title: "Markets Rally", Normalized: "markets rally", FirstSeen: seen},
	}

	mock.ExpectExec("INSERT INTO titles").
		WithArgs("daily", "breaking: ai news", "Breaking: AI News", seen).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO titles").
		WithArgs("daily", "markets rally", "Markets Rally", seen).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveRecords(context.Background(), "daily", records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordsPropagatesError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "titles")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO titles").
		WithArgs("daily", "only row", "Only Row", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection lost"))

	err = store.SaveRecords(context.Background(), "daily", []ingest.TitledRecord{
		{Title: "Only Row", Normalized: "only row", FirstSeen: time.Now().UTC()},
	})
	require.ErrorContains(t, err, "connection lost")
}

func TestLoadPriorRecords(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "titles")
	require.NoError(t, err)

	older := time.Unix(1750000000, 0).UTC()
	newer := older.Add(time.Hour)
	rows := pgxmock.NewRows([]string{"title", "normalized", "first_seen"}).
		AddRow("Breaking: AI News", "breaking: ai news", older).
		AddRow("Markets Rally", "markets rally", newer)

	mock.ExpectQuery("SELECT title, normalized, first_seen FROM titles").
		WithArgs("daily").
		WillReturnRows(rows)

	got, err := store.LoadPriorRecords(context.Background(), "daily")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "breaking: ai news", got[0].Normalized)
	require.Equal(t, older, got[0].FirstSeen)
	require.Equal(t, "Markets Rally", got[1].Title)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPriorRecordsQueryError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "titles")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT title, normalized, first_seen FROM titles").
		WithArgs("daily").
		WillReturnError(errors.New("relation does not exist"))

	_, err = store.LoadPriorRecords(context.Background(), "daily")
	require.ErrorContains(t, err, "relation does not exist")
}
