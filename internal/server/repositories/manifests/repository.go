package manifests

import (
	"context"

	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

// Repository reads and writes the relational mirror of shipments,
// participants, samples and uploads.
type Repository interface {
	ShipmentByManifestID(ctx context.Context, manifestID string) (*models.Record, error)
	SamplesByManifestID(ctx context.Context, manifestID string) ([]*models.Record, error)
	UploadByManifestID(ctx context.Context, manifestID string) (*models.Record, error)
	CIMACIDs(ctx context.Context, trialID string) ([]string, error)
	CollectionEventExists(ctx context.Context, trialID, eventName string) (bool, error)
	ParticipantExists(ctx context.Context, trialID, cimacParticipantID string) (bool, error)
	// Upsert writes one record; existing rows are replaced by the new state.
	Upsert(ctx context.Context, r *models.Record) error
}
