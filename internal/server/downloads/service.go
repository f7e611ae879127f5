// Package downloads lists the data files a user may see and hands out
// short-lived URLs for them.
package downloads

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/files"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trialregistry/internal/timex"
)

// PermissionFinder resolves the permission covering a (trial, type) pair,
// or nil when there is none.
type PermissionFinder interface {
	FindForUserTrialType(ctx context.Context, userID int64, trialID, uploadType string) (*models.Permission, error)
}

// URLSigner issues time-limited GET URLs for objects in the data bucket.
type URLSigner interface {
	SignedURL(ctx context.Context, object string, ttl time.Duration) (string, error)
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	perms       PermissionFinder
	signer      URLSigner
	ttl         time.Duration
	clock       timex.Clock
	logger      logging.Logger
}

func NewService(db *sql.DB, repomanager repomanager.RepositoryManager, perms PermissionFinder, signer URLSigner,
	ttl time.Duration, clock timex.Clock, logger logging.Logger) *Service {
	return &Service{
		db:          db,
		repomanager: repomanager,
		perms:       perms,
		signer:      signer,
		ttl:         ttl,
		clock:       clock,
		logger:      logger.With("module", "downloads"),
	}
}

// ListForUser returns the files user holds a permission for. Admins see
// everything.
func (s *Service) ListForUser(ctx context.Context, user *models.User, f files.ListFilter) ([]*models.DownloadableFile, error) {
	if user.Disabled {
		return nil, common.ErrorForbidden
	}
	return s.repomanager.Files(s.db).ListVisible(ctx, user.ID, user.IsAdmin(), f)
}

// DownloadURL signs a GET URL for one file after checking that user may
// download it.
func (s *Service) DownloadURL(ctx context.Context, user *models.User, fileID int64) (*models.DownloadLink, error) {
	if user.Disabled {
		return nil, common.ErrorForbidden
	}
	file, err := s.repomanager.Files(s.db).GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if !user.IsAdmin() {
		p, err := s.perms.FindForUserTrialType(ctx, user.ID, file.TrialID, file.UploadType)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("%w: %s has no access to %s/%s", common.ErrorForbidden, user.Email, file.TrialID, file.UploadType)
		}
	}

	url, err := s.signer.SignedURL(ctx, file.ObjectURL, s.ttl)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", file.ObjectURL, err)
	}
	s.logger.Debug(ctx, "download url issued", "file_id", fileID, "user", user.Email)
	return &models.DownloadLink{FileID: file.ID, URL: url, Expires: s.clock.Now().Add(s.ttl)}, nil
}
