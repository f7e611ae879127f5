package files

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

const fileColumns = `f.id, f.trial_id, f.upload_type, f.object_url, f.file_size_bytes, f.upload_job_id, f.facet_group, f.analysis, f._created`

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(s scanner) (*models.DownloadableFile, error) {
	f := &models.DownloadableFile{}
	var jobID sql.NullInt64
	if err := s.Scan(&f.ID, &f.TrialID, &f.UploadType, &f.ObjectURL, &f.FileSizeBytes,
		&jobID, &f.FacetGroup, &f.Analysis, &f.CreatedAt); err != nil {
		return nil, err
	}
	if jobID.Valid {
		id := jobID.Int64
		f.UploadJobID = &id
	}
	return f, nil
}

// CreateOrUpdate upserts a file record by object_url.
func (r *PostgresRepository) CreateOrUpdate(ctx context.Context, file *models.DownloadableFile) error {
	query := `
		INSERT INTO downloadable_files (trial_id, upload_type, object_url, file_size_bytes, upload_job_id, facet_group, analysis)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (object_url)
		DO UPDATE SET
			file_size_bytes = EXCLUDED.file_size_bytes,
			upload_job_id = EXCLUDED.upload_job_id,
			facet_group = EXCLUDED.facet_group
		RETURNING id, _created
	`
	var jobID sql.NullInt64
	if file.UploadJobID != nil {
		jobID = sql.NullInt64{Int64: *file.UploadJobID, Valid: true}
	}
	err := r.db.QueryRowContext(ctx, query,
		file.TrialID, file.UploadType, file.ObjectURL, file.FileSizeBytes, jobID, file.FacetGroup, file.Analysis).
		Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return dbx.MapError(err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.DownloadableFile, error) {
	query := `SELECT ` + fileColumns + ` FROM downloadable_files f WHERE f.id = $1`
	f, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, dbx.MapError(err)
	}
	return f, nil
}

func (r *PostgresRepository) ListVisible(ctx context.Context, userID int64, all bool, filter ListFilter) ([]*models.DownloadableFile, error) {
	query := `SELECT ` + fileColumns + ` FROM downloadable_files f
		WHERE ($2::boolean OR EXISTS (
			SELECT 1 FROM permissions p
			WHERE p.granted_to_user = $1
			  AND (p.trial_id IS NULL OR p.trial_id = f.trial_id)
			  AND (p.upload_type = f.upload_type OR (p.upload_type IS NULL AND f.upload_type <> $3))))
		  AND ($4 = '' OR f.trial_id = $4)
		  AND ($5 = '' OR f.upload_type = $5)
		ORDER BY f.id
		LIMIT $6 OFFSET $7
	`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, query, userID, all, common.ClinicalDataUploadType,
		filter.TrialID, filter.UploadType, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.DownloadableFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
