package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/trialregistry/internal/server/migrations"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func stubGooseUp(t *testing.T, fn func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error) {
	t.Helper()
	orig := gooseUpContext
	gooseUpContext = fn
	t.Cleanup(func() { gooseUpContext = orig })
}

func TestFactories_BindEveryRepository(t *testing.T) {
	db := newDB(t)
	m := NewPostgresRepositoryManager()

	assert.NotNil(t, m.Users(db))
	assert.NotNil(t, m.Permissions(db))
	assert.NotNil(t, m.Trials(db))
	assert.NotNil(t, m.UploadJobs(db))
	assert.NotNil(t, m.Manifests(db))
	assert.NotNil(t, m.Files(db))
}

func TestRunMigrations_UsesEmbeddedRoot(t *testing.T) {
	var gotDir string
	stubGooseUp(t, func(_ context.Context, _ *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		assert.Empty(t, opts)
		return nil
	})

	require.NoError(t, NewPostgresRepositoryManager().RunMigrations(context.Background(), newDB(t)))
	assert.Equal(t, ".", gotDir)
}

func TestRunMigrations_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	stubGooseUp(t, func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error { return boom })

	err := NewPostgresRepositoryManager().RunMigrations(context.Background(), newDB(t))
	assert.ErrorIs(t, err, boom)
}

// The relational mirror tables reference the core schema, so the order of
// the embedded files matters.
func TestMigrations_OrderedAndReversible(t *testing.T) {
	names, err := fs.Glob(migrations.Migrations, "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"00001_core.sql", "00002_relational_mirror.sql"}, names)

	for _, n := range names {
		body, err := fs.ReadFile(migrations.Migrations, n)
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", n)
		assert.Contains(t, string(body), "-- +goose Down", n)
	}
}
