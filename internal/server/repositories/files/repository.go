package files

import (
	"context"

	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

// ListFilter narrows a file listing. Zero values disable a filter.
type ListFilter struct {
	TrialID    string
	UploadType string
	Limit      int
	Offset     int
}

type Repository interface {
	CreateOrUpdate(ctx context.Context, file *models.DownloadableFile) error
	GetByID(ctx context.Context, id int64) (*models.DownloadableFile, error)
	// ListVisible returns files userID holds a matching permission for, or
	// every file when all is set.
	ListVisible(ctx context.Context, userID int64, all bool, f ListFilter) ([]*models.DownloadableFile, error)
}
