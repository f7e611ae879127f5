package trials

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "trial_id", "metadata_json", "_etag", "_created", "_updated"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	q := `(?s)^INSERT\s+INTO\s+trial_metadata\s*\(trial_id,\s*metadata_json,\s*_etag\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*RETURNING\s+id,\s*_created,\s*_updated\s*$`
	mock.ExpectQuery(q).
		WithArgs("T1", []byte(`{"protocol_identifier":"T1"}`), "etag").
		WillReturnRows(sqlmock.NewRows([]string{"id", "_created", "_updated"}).AddRow(int64(1), now, now))

	tm, err := repo.Create(context.Background(), &models.TrialMetadata{
		TrialID: "T1", Metadata: map[string]any{"protocol_identifier": "T1"}, ETag: "etag",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), tm.ID)
}

func TestSelectForUpdate_Locks(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`(?s)FROM\s+trial_metadata\s+WHERE\s+trial_id\s*=\s*\$1\s+FOR\s+UPDATE$`).
		WithArgs("T1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(int64(1), "T1", []byte(`{"protocol_identifier":"T1","participants":[]}`), "e1", now, now))

	tm, err := repo.SelectForUpdate(context.Background(), "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1", tm.Metadata["protocol_identifier"])
	assert.Equal(t, "e1", tm.ETag)
}

func TestGetByTrialID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)FROM\s+trial_metadata\s+WHERE\s+trial_id\s*=\s*\$1$`).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByTrialID(context.Background(), "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpdateMetadata(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+trial_metadata\s+SET\s+metadata_json\s*=\s*\$2,\s*_etag\s*=\s*\$3,\s*_updated\s*=\s*now\(\)\s+WHERE\s+trial_id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).
		WithArgs("T1", []byte(`{"a":1}`), "e2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs("T2", []byte(`{}`), "e3").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateMetadata(context.Background(), &models.TrialMetadata{TrialID: "T1", Metadata: map[string]any{"a": 1}, ETag: "e2"}))
	err := repo.UpdateMetadata(context.Background(), &models.TrialMetadata{TrialID: "T2", Metadata: map[string]any{}, ETag: "e3"})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestListTrialIDs(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`^SELECT\s+trial_id\s+FROM\s+trial_metadata\s+ORDER\s+BY\s+trial_id$`).
		WillReturnRows(sqlmock.NewRows([]string{"trial_id"}).AddRow("T1").AddRow("T2"))

	ids, err := repo.ListTrialIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2"}, ids)
}

func TestSummaries_FilterAndAssayCounts(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)WITH\s+selected\s+AS`).
		WithArgs(`["T1"]`).
		WillReturnRows(sqlmock.NewRows([]string{"trial_id", "bytes", "clinical", "participants", "samples", "expected"}).
			AddRow("T1", int64(1024), int64(2), int64(3), int64(7), []byte(`["wes","olink"]`)))
	mock.ExpectQuery(`(?s)jsonb_each`).
		WithArgs(`["T1"]`).
		WillReturnRows(sqlmock.NewRows([]string{"trial_id", "key", "count"}).
			AddRow("T1", "olink", int64(4)).
			AddRow("T9", "wes", int64(1)))

	got, err := repo.Summaries(context.Background(), []string{"T1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1024), got[0].FileSizeBytes)
	assert.Equal(t, []string{"wes", "olink"}, got[0].ExpectedAssays)
	assert.Equal(t, map[string]int64{"olink": 4}, got[0].SamplesByAssay)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummaries_NoFilterPassesNull(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)WITH\s+selected\s+AS`).
		WithArgs(nil).
		WillReturnError(errors.New("boom"))

	_, err := repo.Summaries(context.Background(), nil)
	assert.EqualError(t, err, "db error: boom")
}

func TestCounts(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)COUNT\(DISTINCT\s+t\.trial_id\)`).
		WillReturnRows(sqlmock.NewRows([]string{"t", "p", "s"}).AddRow(int64(2), int64(10), int64(40)))

	c, err := repo.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Counts{Trials: 2, Participants: 10, Samples: 40}, c)
}
