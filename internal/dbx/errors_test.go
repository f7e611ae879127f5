package dbx

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	assert.NoError(t, MapError(nil))
	assert.ErrorIs(t, MapError(sql.ErrNoRows), common.ErrorNotFound)
	assert.ErrorIs(t, MapError(fmt.Errorf("scan: %w", sql.ErrNoRows)), common.ErrorNotFound)

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	err := MapError(dup)
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
	assert.Contains(t, err.Error(), "users_email_key")

	other := errors.New("conn reset")
	err = MapError(other)
	assert.ErrorIs(t, err, other)
	assert.EqualError(t, err, "db error: conn reset")

	fk := &pgconn.PgError{Code: "23503"}
	assert.NotErrorIs(t, MapError(fk), common.ErrAlreadyExists)
}
