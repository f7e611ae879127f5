package uploadjobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

const jobColumns = `id, trial_id, upload_type, uploader_email, status, status_details, multifile, assay_creator,
		gcs_file_map, metadata_patch, gcs_xfer_job_ids, token, shipment_manifest_id, _created, _updated`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*models.UploadJob, error) {
	j := &models.UploadJob{}
	var status string
	var fileMap, patch, xfer []byte
	err := s.Scan(&j.ID, &j.TrialID, &j.UploadType, &j.UploaderEmail, &status, &j.StatusDetails,
		&j.MultifileUpload, &j.AssayCreator, &fileMap, &patch, &xfer, &j.Token, &j.ShipmentManifestID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = models.UploadJobStatus(status)
	if err := unmarshalIfSet(fileMap, &j.GCSFileMap); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(patch, &j.MetadataPatch); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(xfer, &j.GCSXferJobs); err != nil {
		return nil, err
	}
	return j, nil
}

func unmarshalIfSet(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode upload job column: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, j *models.UploadJob) (*models.UploadJob, error) {
	var fileMap []byte
	if j.GCSFileMap != nil {
		b, err := json.Marshal(j.GCSFileMap)
		if err != nil {
			return nil, err
		}
		fileMap = b
	}
	patch, err := json.Marshal(j.MetadataPatch)
	if err != nil {
		return nil, err
	}
	xfer, err := json.Marshal(nonNil(j.GCSXferJobs))
	if err != nil {
		return nil, err
	}

	query :=
		`INSERT INTO upload_jobs (trial_id, upload_type, uploader_email, status, status_details, multifile,
		                          assay_creator, gcs_file_map, metadata_patch, gcs_xfer_job_ids, token,
		                          shipment_manifest_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id, _created, _updated
		 `

	err = r.db.QueryRowContext(ctx, query,
		j.TrialID, j.UploadType, j.UploaderEmail, string(j.Status), j.StatusDetails, j.MultifileUpload,
		j.AssayCreator, fileMap, patch, xfer, j.Token, j.ManifestID()).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	return j, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.UploadJob, error) {
	query := `SELECT ` + jobColumns + ` FROM upload_jobs WHERE id = $1`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, dbx.MapError(err)
	}
	return j, nil
}

func (r *PostgresRepository) FindByIDAndEmail(ctx context.Context, id int64, email string) (*models.UploadJob, error) {
	query := `SELECT ` + jobColumns + ` FROM upload_jobs WHERE id = $1 AND uploader_email = $2`
	j, err := scanJob(r.db.QueryRowContext(ctx, query, id, email))
	if err != nil {
		return nil, dbx.MapError(err)
	}
	return j, nil
}

func (r *PostgresRepository) Update(ctx context.Context, j *models.UploadJob) error {
	patch, err := json.Marshal(j.MetadataPatch)
	if err != nil {
		return err
	}

	query :=
		`UPDATE upload_jobs
		 SET status = $2, status_details = $3, upload_type = $4, metadata_patch = $5, _updated = now()
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, j.ID, string(j.Status), j.StatusDetails, j.UploadType, patch)
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

func (r *PostgresRepository) ListForManifest(ctx context.Context, trialID, manifestID string) ([]*models.UploadJob, error) {
	query := `SELECT ` + jobColumns + ` FROM upload_jobs
		 WHERE trial_id = $1 AND status = $2
		   AND shipment_manifest_id = $3
		 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, trialID, string(models.StatusMergeCompleted), manifestID)
	if err != nil {
		return nil, dbx.MapError(err)
	}
	defer rows.Close()

	var result []*models.UploadJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, dbx.MapError(err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, dbx.MapError(err)
	}
	return result, nil
}
