// Package users manages portal accounts: lookup-or-create on first login,
// access stamps, admin approval and the inactivity sweep.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trialregistry/internal/timex"
)

// PermissionRevoker removes every cloud grant implied by a user's
// permission rows.
type PermissionRevoker interface {
	RevokeUserPermissions(ctx context.Context, user *models.User) error
}

type BigQueryRevoker interface {
	RevokeBigQueryAccess(ctx context.Context, email string) error
}

type Service struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	permissions  PermissionRevoker
	bigquery     BigQueryRevoker
	inactiveDays int
	clock        timex.Clock
	logger       logging.Logger
}

func NewService(db *sql.DB, repomanager repomanager.RepositoryManager, perms PermissionRevoker, bq BigQueryRevoker,
	inactiveDays int, clock timex.Clock, logger logging.Logger) *Service {
	return &Service{
		db:           db,
		repomanager:  repomanager,
		permissions:  perms,
		bigquery:     bq,
		inactiveDays: inactiveDays,
		clock:        clock,
		logger:       logger.With("module", "users"),
	}
}

// EnsureUser returns the account registered under email, creating an
// unapproved one if none exists.
func (s *Service) EnsureUser(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, common.NewValidationError("email is required")
	}
	repo := s.repomanager.Users(s.db)

	u, err := repo.GetByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	u, err = repo.Create(ctx, &models.User{Email: email, Accessed: s.clock.Now()})
	if errors.Is(err, common.ErrAlreadyExists) {
		// lost a race with a concurrent first login
		return repo.GetByEmail(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	s.logger.Info(ctx, "user registered", "email", email)
	return u, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*models.User, error) {
	return s.repomanager.Users(s.db).List(ctx)
}

// CurrentUser resolves an authenticated id to an enabled account.
func (s *Service) CurrentUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if u.Disabled {
		return nil, fmt.Errorf("%w: account %s is disabled", common.ErrorUnauthorized, u.Email)
	}
	return u, nil
}

// UpdateAccessed refreshes u's last-access stamp when it is more than a day
// old.
func (s *Service) UpdateAccessed(ctx context.Context, u *models.User) error {
	now := s.clock.Now()
	if !u.AccessedStale(now) {
		return nil
	}
	if err := s.repomanager.Users(s.db).UpdateAccessed(ctx, u.ID, now); err != nil {
		return err
	}
	u.Accessed = now
	return nil
}

// Approve assigns role to user id and stamps the approval date.
func (s *Service) Approve(ctx context.Context, id int64, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, common.NewValidationError("unknown role %q", role)
	}
	repo := s.repomanager.Users(s.db)
	if err := repo.Approve(ctx, id, role, s.clock.Now()); err != nil {
		return nil, err
	}
	return repo.GetByID(ctx, id)
}

// DisableInactiveUsers disables every account not accessed within the
// configured number of days and strips its cloud access. The emails of the
// disabled accounts are returned even when some revocations fail.
func (s *Service) DisableInactiveUsers(ctx context.Context) ([]string, error) {
	cutoff := s.clock.Now().Add(-time.Duration(s.inactiveDays) * 24 * time.Hour)

	disabled, err := s.repomanager.Users(s.db).DisableInactive(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	emails := make([]string, 0, len(disabled))
	var errs []error
	for _, u := range disabled {
		emails = append(emails, u.Email)
		s.logger.Info(ctx, "user disabled", "email", u.Email, "last_accessed", u.Accessed)

		if err := s.permissions.RevokeUserPermissions(ctx, u); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.Email, err))
		}
		if err := s.bigquery.RevokeBigQueryAccess(ctx, u.Email); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u.Email, err))
		}
	}
	return emails, common.AsMultiError(errs)
}
