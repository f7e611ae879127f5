package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	UpdateAccessed(ctx context.Context, id int64, at time.Time) error
	Approve(ctx context.Context, id int64, role models.Role, at time.Time) error
	DisableInactive(ctx context.Context, cutoff time.Time) ([]*models.User, error)
}
