// Package uploads tracks upload jobs through their status lifecycle and
// announces successful merges.
package uploads

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trialregistry/internal/server/trials"
	"github.com/google/uuid"
)

type Notifier interface {
	UploadSuccess(ctx context.Context, uploadID int64) error
}

// DownloadGranter opens a merged upload's files to the users allowed to
// see them.
type DownloadGranter interface {
	GrantDownloadPermissionsForUploadJob(ctx context.Context, job *models.UploadJob) error
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	notifier    Notifier
	grants      DownloadGranter
	logger      logging.Logger
}

func NewService(db *sql.DB, repomanager repomanager.RepositoryManager, notifier Notifier, grants DownloadGranter, logger logging.Logger) *Service {
	return &Service{
		db:          db,
		repomanager: repomanager,
		notifier:    notifier,
		grants:      grants,
		logger:      logger.With("module", "uploads"),
	}
}

// CreateRequest describes a new upload job. Status defaults to started.
type CreateRequest struct {
	UploadType      string
	UploaderEmail   string
	MetadataPatch   map[string]any
	GCSFileMap      map[string]string
	AssayCreator    string
	MultifileUpload bool
	Status          models.UploadJobStatus
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.UploadJob, error) {
	trialID, _ := req.MetadataPatch["protocol_identifier"].(string)
	if trialID == "" {
		return nil, common.NewValidationError("cannot create upload job with empty protocol_identifier")
	}
	if req.UploadType == "" {
		return nil, common.NewValidationError("upload_type is required")
	}
	if !models.IsManifestUpload(req.UploadType) && len(req.GCSFileMap) == 0 {
		return nil, common.NewValidationError("%s upload jobs require a gcs file map", req.UploadType)
	}
	status := req.Status
	if status == "" {
		status = models.StatusStarted
	}
	if !status.Valid() {
		return nil, common.NewValidationError("unknown upload status %q", status)
	}

	job := &models.UploadJob{
		TrialID:         trialID,
		UploadType:      req.UploadType,
		UploaderEmail:   req.UploaderEmail,
		Status:          models.StatusStarted,
		MultifileUpload: req.MultifileUpload,
		AssayCreator:    req.AssayCreator,
		GCSFileMap:      req.GCSFileMap,
		MetadataPatch:   req.MetadataPatch,
		Token:           uuid.NewString(),
	}
	// every job begins as started, so the initial status obeys the same
	// transitions as later updates
	if err := job.SetStatus(status); err != nil {
		return nil, err
	}
	job.ShipmentManifestID = job.ManifestID()

	created, err := s.repomanager.UploadJobs(s.db).Create(ctx, job)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "upload job created", "id", created.ID, "trial_id", trialID, "upload_type", req.UploadType)
	return created, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.UploadJob, error) {
	return s.repomanager.UploadJobs(s.db).GetByID(ctx, id)
}

// FindByIDAndEmail returns job id only if email uploaded it.
func (s *Service) FindByIDAndEmail(ctx context.Context, id int64, email string) (*models.UploadJob, error) {
	return s.repomanager.UploadJobs(s.db).FindByIDAndEmail(ctx, id, email)
}

// modify loads job id inside a transaction, applies fn and persists the
// result. Nothing is written when fn fails.
func (s *Service) modify(ctx context.Context, id int64, fn func(*models.UploadJob) error) (*models.UploadJob, error) {
	var job *models.UploadJob
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.UploadJobs(tx)
		var err error
		if job, err = repo.GetByID(ctx, id); err != nil {
			return fmt.Errorf("upload job %d: %w", id, err)
		}
		if err := fn(job); err != nil {
			return err
		}
		return repo.Update(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// SetStatus moves job id to status. A disallowed transition returns
// ErrInvalidTransition and leaves the stored job unchanged.
func (s *Service) SetStatus(ctx context.Context, id int64, status models.UploadJobStatus) (*models.UploadJob, error) {
	job, err := s.modify(ctx, id, func(j *models.UploadJob) error { return j.SetStatus(status) })
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "upload job status changed", "id", id, "status", status)
	return job, nil
}

// MergeExtraMetadata folds extra into the patch of a job still in
// progress.
func (s *Service) MergeExtraMetadata(ctx context.Context, id int64, extra map[string]any) (*models.UploadJob, error) {
	return s.modify(ctx, id, func(j *models.UploadJob) error {
		if j.Status.IsTerminal() {
			return fmt.Errorf("%w: upload job %d is already %s", common.ErrInvalidTransition, id, j.Status)
		}
		j.MetadataPatch = trials.Merge(j.MetadataPatch, extra)
		return nil
	})
}

// IngestionSuccess marks job id merge-completed, announces it and grants
// download access on its files.
func (s *Service) IngestionSuccess(ctx context.Context, id int64) (*models.UploadJob, error) {
	job, err := s.SetStatus(ctx, id, models.StatusMergeCompleted)
	if err != nil {
		return nil, err
	}
	if err := s.notifier.UploadSuccess(ctx, job.ID); err != nil {
		return job, fmt.Errorf("publish upload success: %w", err)
	}
	if err := s.grants.GrantDownloadPermissionsForUploadJob(ctx, job); err != nil {
		return job, fmt.Errorf("grant download access: %w", err)
	}
	return job, nil
}
