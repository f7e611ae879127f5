package users

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

const userColumns = `id, email, contact_email, first_n, last_n, organization, role, disabled, approval_date, _accessed, _created`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*models.User, error) {
	u := &models.User{}
	var org, role string
	var approved sql.NullTime
	err := s.Scan(&u.ID, &u.Email, &u.ContactEmail, &u.FirstName, &u.LastName,
		&org, &role, &u.Disabled, &approved, &u.Accessed, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.Organization = models.Organization(org)
	u.Role = models.Role(role)
	if approved.Valid {
		t := approved.Time
		u.ApprovalDate = &t
	}
	return u, nil
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (email, contact_email, first_n, last_n, organization, role)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, _accessed, _created
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.ContactEmail, user.FirstName, user.LastName,
		string(user.Organization), string(user.Role)).Scan(&user.ID, &user.Accessed, &user.CreatedAt)

	if err != nil {
		return nil, dbx.MapError(err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, dbx.MapError(err)
	}
	return u, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	u, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, dbx.MapError(err)
	}
	return u, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id`
	return r.queryUsers(ctx, query)
}

func (r *PostgresRepository) queryUsers(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	defer rows.Close()

	var result []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, dbx.MapError(err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.MapError(err)
	}
	return result, nil
}

func (r *PostgresRepository) UpdateAccessed(ctx context.Context, id int64, at time.Time) error {
	query :=
		`UPDATE users SET _accessed = $2
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, at)
}

func (r *PostgresRepository) Approve(ctx context.Context, id int64, role models.Role, at time.Time) error {
	query :=
		`UPDATE users SET role = $2, approval_date = $3
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, string(role), at)
}

// DisableInactive disables every enabled user last seen before cutoff and
// returns them.
func (r *PostgresRepository) DisableInactive(ctx context.Context, cutoff time.Time) ([]*models.User, error) {
	query :=
		`UPDATE users SET disabled = TRUE
		 WHERE _accessed < $1 AND disabled = FALSE
		 RETURNING ` + userColumns

	return r.queryUsers(ctx, query, cutoff)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return dbx.MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
