package uploadjobs

import (
	"context"

	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, j *models.UploadJob) (*models.UploadJob, error)
	GetByID(ctx context.Context, id int64) (*models.UploadJob, error)
	FindByIDAndEmail(ctx context.Context, id int64, email string) (*models.UploadJob, error)
	// Update persists status, upload type and metadata patch.
	Update(ctx context.Context, j *models.UploadJob) error
	// ListForManifest returns merge-completed jobs of a trial created for
	// manifestID. The link is fixed at creation and survives patch rewrites.
	ListForManifest(ctx context.Context, trialID, manifestID string) ([]*models.UploadJob, error)
}
