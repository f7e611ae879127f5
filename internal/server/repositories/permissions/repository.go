package permissions

import (
	"context"

	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, p *models.Permission) (*models.Permission, error)
	// Restore re-creates a previously deleted row under its original id.
	Restore(ctx context.Context, p *models.Permission) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*models.Permission, error)
	ListForUser(ctx context.Context, userID int64) ([]*models.Permission, error)
	ListSuperseded(ctx context.Context, p *models.Permission) ([]*models.Permission, error)
	CountForUser(ctx context.Context, userID int64) (int, error)
	FindForUserTrialType(ctx context.Context, userID int64, trialID, uploadType string) ([]*models.Permission, error)
	// ListGrants returns permissions relevant to a (trial, upload type)
	// query joined with their grantees. Admins are never returned.
	ListGrants(ctx context.Context, trial, uploadType models.Scope) ([]*models.Grant, error)
}
