package trials

import (
	"context"

	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, t *models.TrialMetadata) (*models.TrialMetadata, error)
	GetByTrialID(ctx context.Context, trialID string) (*models.TrialMetadata, error)
	// SelectForUpdate locks the trial row until the enclosing transaction
	// ends.
	SelectForUpdate(ctx context.Context, trialID string) (*models.TrialMetadata, error)
	UpdateMetadata(ctx context.Context, t *models.TrialMetadata) error
	ListTrialIDs(ctx context.Context) ([]string, error)
	// Summaries aggregates per-trial counts. A nil trialIDs means all trials.
	Summaries(ctx context.Context, trialIDs []string) ([]*models.TrialSummary, error)
	Counts(ctx context.Context) (*Counts, error)
}

type Counts struct {
	Trials       int64 `json:"num_trials"`
	Participants int64 `json:"num_participants"`
	Samples      int64 `json:"num_samples"`
}
