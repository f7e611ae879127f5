package permissions

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

func (s *Service) FindForUser(ctx context.Context, userID int64) ([]*models.Permission, error) {
	return s.repomanager.Permissions(s.db).ListForUser(ctx, userID)
}

// FindForUserTrialType returns the first of userID's permissions covering
// (trialID, uploadType): an exact row, a cross-trial row for the type, or
// a cross-type row for the trial unless uploadType is clinical data.
func (s *Service) FindForUserTrialType(ctx context.Context, userID int64, trialID, uploadType string) (*models.Permission, error) {
	perms, err := s.repomanager.Permissions(s.db).FindForUserTrialType(ctx, userID, trialID, uploadType)
	if err != nil {
		return nil, err
	}
	if len(perms) == 0 {
		return nil, nil
	}
	return perms[0], nil
}

// GetForTrialType returns every grant relevant to (trial, uploadType),
// including wildcard rows that cover it. Admin grantees are included.
func (s *Service) GetForTrialType(ctx context.Context, trial, uploadType models.Scope) ([]*models.Grant, error) {
	return s.repomanager.Permissions(s.db).ListGrants(ctx, trial, uploadType)
}

// EmailsByScope maps a permission's trial scope and upload-type scope to
// the emails of its enabled grantees.
type EmailsByScope map[models.Scope]map[models.Scope][]string

// GetUserEmailsForTrialUpload groups the enabled grantees relevant to trial
// and uploadTypes by the scopes of their permissions. An empty uploadTypes
// means every type. Scopes without an enabled grantee are left out.
func (s *Service) GetUserEmailsForTrialUpload(ctx context.Context, trial models.Scope, uploadTypes []string) (EmailsByScope, error) {
	queries := []models.Scope{models.Every}
	if len(uploadTypes) > 0 {
		queries = queries[:0]
		for _, t := range uploadTypes {
			queries = append(queries, models.Specific(t))
		}
	}

	repo := s.repomanager.Permissions(s.db)
	out := EmailsByScope{}
	seen := map[models.Scope]map[models.Scope]map[string]struct{}{}

	for _, q := range queries {
		grants, err := repo.ListGrants(ctx, trial, q)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			if g.Grantee.Disabled {
				continue
			}
			tk, uk := g.Permission.Trial, g.Permission.UploadType
			if seen[tk] == nil {
				seen[tk] = map[models.Scope]map[string]struct{}{}
				out[tk] = map[models.Scope][]string{}
			}
			if seen[tk][uk] == nil {
				seen[tk][uk] = map[string]struct{}{}
			}
			if _, dup := seen[tk][uk][g.Grantee.Email]; dup {
				continue
			}
			seen[tk][uk][g.Grantee.Email] = struct{}{}
			out[tk][uk] = append(out[tk][uk], g.Grantee.Email)
		}
	}

	for _, byType := range out {
		for _, emails := range byType {
			sort.Strings(emails)
		}
	}
	return out, nil
}
