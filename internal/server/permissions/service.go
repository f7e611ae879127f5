// Package permissions owns the permission lifecycle: every insert and
// delete keeps the database rows and the cloud download ACLs in step,
// undoing its own work when the other side fails.
package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/saga"
	"github.com/dmitrijs2005/trialregistry/internal/server/metrics"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
)

// Access is the part of access.Service the lifecycle drives.
type Access interface {
	GrantListerAccess(ctx context.Context, email string) error
	RevokeListerAccess(ctx context.Context, email string) error
	GrantDownloadAccess(ctx context.Context, emails []string, trial models.Scope, uploadTypes []string) error
	RevokeDownloadAccess(ctx context.Context, emails []string, trial models.Scope, uploadTypes []string) error
	RefreshIntakeAccess(ctx context.Context, email string) error
	RevokeIntakeAccess(ctx context.Context, email string) error
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	access      Access
	metrics     *metrics.Metrics
	logger      logging.Logger
}

func NewService(db *sql.DB, repomanager repomanager.RepositoryManager, access Access, m *metrics.Metrics, logger logging.Logger) *Service {
	return &Service{
		db:          db,
		repomanager: repomanager,
		access:      access,
		metrics:     m,
		logger:      logger.With("module", "permissions"),
	}
}

// uploadTypes renders a scope as the type list taken by Access: nil for
// every type.
func uploadTypes(s models.Scope) []string {
	if v, ok := s.Value(); ok {
		return []string{v}
	}
	return nil
}

const stepPersist = "persist"

// Insert stores p, replacing the narrower rows it supersedes, and then
// grants the matching cloud access. The rows are committed before any cloud
// call. If a cloud call fails the superseded rows are restored under their
// original ids, p is removed and ErrIAMGrantFailed is returned.
func (s *Service) Insert(ctx context.Context, p *models.Permission) (*models.Permission, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.GrantedByUser == 0 {
		return nil, common.NewValidationError("%s has no granting user", p)
	}

	users := s.repomanager.Users(s.db)
	grantee, err := users.GetByID(ctx, p.GrantedToUser)
	if err != nil {
		return nil, fmt.Errorf("grantee %d: %w", p.GrantedToUser, err)
	}
	if _, err := users.GetByID(ctx, p.GrantedByUser); err != nil {
		return nil, fmt.Errorf("grantor %d: %w", p.GrantedByUser, err)
	}

	var superseded []*models.Permission
	var inserted *models.Permission

	sg := saga.New("permission_insert", s.logger)
	err = sg.Run(ctx, saga.Step{
		Name: stepPersist,
		Do: func(ctx context.Context) error {
			return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
				repo := s.repomanager.Permissions(tx)
				var err error
				if superseded, err = repo.ListSuperseded(ctx, p); err != nil {
					return err
				}
				for _, old := range superseded {
					if err := repo.Delete(ctx, old.ID); err != nil {
						return err
					}
				}
				inserted, err = repo.Insert(ctx, p)
				return err
			})
		},
		Compensate: func(ctx context.Context) error {
			return s.restore(ctx, inserted, superseded)
		},
	})
	if err != nil {
		var se *saga.Error
		if errors.As(err, &se) {
			return nil, se.Err
		}
		return nil, err
	}

	if !grantee.CanDownload() {
		return inserted, nil
	}

	steps := []saga.Step{
		{Name: "grant lister", Do: func(ctx context.Context) error {
			return s.access.GrantListerAccess(ctx, grantee.Email)
		}},
		{Name: "grant download", Do: func(ctx context.Context) error {
			return s.access.GrantDownloadAccess(ctx, []string{grantee.Email}, inserted.Trial, uploadTypes(inserted.UploadType))
		}},
	}
	for _, old := range superseded {
		steps = append(steps, saga.Step{
			Name: fmt.Sprintf("revoke superseded %d", old.ID),
			Do: func(ctx context.Context) error {
				return s.access.RevokeDownloadAccess(ctx, []string{grantee.Email}, old.Trial, uploadTypes(old.UploadType))
			},
		})
	}

	for _, st := range steps {
		if err := sg.Run(ctx, st); err != nil {
			s.metrics.Compensation("permission_insert")
			s.logger.Warn(ctx, "permission rolled back after IAM failure", "permission", inserted.String(), "error", err)
			return nil, fmt.Errorf("%w: %w", common.ErrIAMGrantFailed, err)
		}
	}

	s.logger.Info(ctx, "permission granted", "permission", inserted.String(), "superseded", len(superseded))
	return inserted, nil
}

// restore puts the database back to its state before Insert.
func (s *Service) restore(ctx context.Context, inserted *models.Permission, superseded []*models.Permission) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Permissions(tx)
		if inserted != nil {
			if err := repo.Delete(ctx, inserted.ID); err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}
		}
		for _, old := range superseded {
			if err := repo.Restore(ctx, old); err != nil {
				return err
			}
		}
		return nil
	})
}

const stepDelete = "delete row"

// Delete revokes the cloud access of permission id and then removes the
// row. Lister access goes too when this is the grantee's last permission.
// A failed revoke leaves the row in place and returns ErrIAMRevokeFailed.
func (s *Service) Delete(ctx context.Context, id, deletedBy int64) error {
	perms := s.repomanager.Permissions(s.db)
	users := s.repomanager.Users(s.db)

	p, err := perms.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("permission %d: %w", id, err)
	}
	grantee, err := users.GetByID(ctx, p.GrantedToUser)
	if err != nil {
		return fmt.Errorf("grantee %d: %w", p.GrantedToUser, err)
	}
	deleter, err := users.GetByID(ctx, deletedBy)
	if err != nil {
		return fmt.Errorf("deleting user %d: %w", deletedBy, err)
	}

	var steps []saga.Step
	if grantee.CanDownload() {
		count, err := perms.CountForUser(ctx, grantee.ID)
		if err != nil {
			return err
		}
		emails := []string{grantee.Email}
		types := uploadTypes(p.UploadType)
		steps = append(steps, saga.Step{
			Name:       "revoke download",
			Do:         func(ctx context.Context) error { return s.access.RevokeDownloadAccess(ctx, emails, p.Trial, types) },
			Compensate: func(ctx context.Context) error { return s.access.GrantDownloadAccess(ctx, emails, p.Trial, types) },
		})
		if count <= 1 {
			steps = append(steps, saga.Step{
				Name:       "revoke lister",
				Do:         func(ctx context.Context) error { return s.access.RevokeListerAccess(ctx, grantee.Email) },
				Compensate: func(ctx context.Context) error { return s.access.GrantListerAccess(ctx, grantee.Email) },
			})
		}
	}
	steps = append(steps, saga.Step{
		Name: stepDelete,
		Do:   func(ctx context.Context) error { return perms.Delete(ctx, p.ID) },
	})

	if err := saga.Execute(ctx, "permission_delete", s.logger, steps...); err != nil {
		var se *saga.Error
		if !errors.As(err, &se) {
			return err
		}
		if len(se.Compensated) > 0 {
			s.metrics.Compensation("permission_delete")
		}
		if se.Step == stepDelete {
			return fmt.Errorf("delete permission %d: %w", id, err)
		}
		return fmt.Errorf("%w: %w", common.ErrIAMRevokeFailed, err)
	}

	s.logger.Info(ctx, "permission deleted", "permission", p.String(), "deleted_by", deleter.Email)
	return nil
}
