package permissions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

const permissionColumns = `id, granted_to_user, granted_by_user, trial_id, upload_type, _created`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPermission(s scanner, extra ...any) (*models.Permission, error) {
	p := &models.Permission{}
	var grantedBy sql.NullInt64
	var trial, uploadType sql.NullString
	dest := append([]any{&p.ID, &p.GrantedToUser, &grantedBy, &trial, &uploadType, &p.CreatedAt}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	p.GrantedByUser = grantedBy.Int64
	p.Trial = models.ScopeFromNull(trial)
	p.UploadType = models.ScopeFromNull(uploadType)
	return p, nil
}

func nullUser(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func (r *PostgresRepository) Insert(ctx context.Context, p *models.Permission) (*models.Permission, error) {

	query :=
		`INSERT INTO permissions (granted_to_user, granted_by_user, trial_id, upload_type)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, _created
		 `

	err := r.db.QueryRowContext(ctx, query,
		p.GrantedToUser, nullUser(p.GrantedByUser), p.Trial.NullString(), p.UploadType.NullString()).
		Scan(&p.ID, &p.CreatedAt)

	if err != nil {
		return nil, dbx.MapError(err)
	}

	return p, nil
}

func (r *PostgresRepository) Restore(ctx context.Context, p *models.Permission) error {

	query :=
		`INSERT INTO permissions (id, granted_to_user, granted_by_user, trial_id, upload_type, _created)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 `

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.GrantedToUser, nullUser(p.GrantedByUser), p.Trial.NullString(), p.UploadType.NullString(), p.CreatedAt)
	return dbx.MapError(err)
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM permissions WHERE id = $1`, id)
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

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = $1`

	p, err := scanPermission(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, dbx.MapError(err)
	}
	return p, nil
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID int64) ([]*models.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE granted_to_user = $1 ORDER BY id`
	return r.query(ctx, query, userID)
}

// ListSuperseded returns the narrower rows made redundant by p. A trial
// wildcard covers rows of the same upload type; an upload type wildcard
// covers rows of the same trial except clinical_data.
func (r *PostgresRepository) ListSuperseded(ctx context.Context, p *models.Permission) ([]*models.Permission, error) {
	switch {
	case p.Trial.IsEvery():
		query := `SELECT ` + permissionColumns + ` FROM permissions
		 WHERE granted_to_user = $1 AND trial_id IS NOT NULL AND upload_type = $2
		 ORDER BY id`
		return r.query(ctx, query, p.GrantedToUser, p.UploadType.NullString())
	case p.UploadType.IsEvery():
		query := `SELECT ` + permissionColumns + ` FROM permissions
		 WHERE granted_to_user = $1 AND trial_id = $2 AND upload_type IS NOT NULL AND upload_type <> $3
		 ORDER BY id`
		return r.query(ctx, query, p.GrantedToUser, p.Trial.NullString(), common.ClinicalDataUploadType)
	default:
		return nil, nil
	}
}

func (r *PostgresRepository) CountForUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permissions WHERE granted_to_user = $1`, userID).Scan(&n)
	if err != nil {
		return 0, dbx.MapError(err)
	}
	return n, nil
}

// FindForUserTrialType returns the rows granting userID access to one
// specific (trial, upload type) pair, wildcards included.
func (r *PostgresRepository) FindForUserTrialType(ctx context.Context, userID int64, trialID, uploadType string) ([]*models.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions
		 WHERE granted_to_user = $1
		   AND ((trial_id = $2 AND upload_type = $3)
		     OR (trial_id IS NULL AND upload_type = $3)
		     OR (trial_id = $2 AND upload_type IS NULL AND $3 <> $4))
		 ORDER BY id`
	return r.query(ctx, query, userID, trialID, uploadType, common.ClinicalDataUploadType)
}

func (r *PostgresRepository) ListGrants(ctx context.Context, trial, uploadType models.Scope) ([]*models.Grant, error) {
	query := `SELECT p.id, p.granted_to_user, p.granted_by_user, p.trial_id, p.upload_type, p._created,
		        u.email, u.role, u.disabled, u.approval_date
		 FROM permissions p
		 JOIN users u ON u.id = p.granted_to_user
		 WHERE ($1::text IS NULL OR p.trial_id = $1::text OR p.trial_id IS NULL)
		   AND ($2::text IS NULL OR p.upload_type = $2::text OR (p.upload_type IS NULL AND $2::text <> $3))
		 ORDER BY p.id`

	rows, err := r.db.QueryContext(ctx, query,
		trial.NullString(), uploadType.NullString(), common.ClinicalDataUploadType)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	defer rows.Close()

	var result []*models.Grant
	for rows.Next() {
		u := &models.User{}
		var role string
		var approved sql.NullTime
		p, err := scanPermission(rows, &u.Email, &role, &u.Disabled, &approved)
		if err != nil {
			return nil, dbx.MapError(err)
		}
		u.ID = p.GrantedToUser
		u.Role = models.Role(role)
		if approved.Valid {
			t := approved.Time
			u.ApprovalDate = &t
		}
		result = append(result, &models.Grant{Permission: p, Grantee: u})
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.MapError(err)
	}
	return result, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.Permission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	defer rows.Close()

	var result []*models.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, dbx.MapError(err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.MapError(err)
	}
	return result, nil
}
