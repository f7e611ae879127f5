package permissions

import (
	"context"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

type scopeKey struct {
	trial      models.Scope
	uploadType models.Scope
}

// trialGroup holds one trial's explicit upload types and whether a
// cross-type row is present.
type trialGroup struct {
	trial    models.Scope
	types    []string
	anyTypes bool
}

// groupByTrial splits perms by trial, keeping first-seen order.
func groupByTrial(perms []*models.Permission) []*trialGroup {
	var order []*trialGroup
	idx := map[models.Scope]*trialGroup{}
	for _, p := range perms {
		g, ok := idx[p.Trial]
		if !ok {
			g = &trialGroup{trial: p.Trial}
			idx[p.Trial] = g
			order = append(order, g)
		}
		if t, ok := p.UploadType.Value(); ok {
			g.types = append(g.types, t)
		} else {
			g.anyTypes = true
		}
	}
	return order
}

type downloadFunc func(ctx context.Context, emails []string, trial models.Scope, uploadTypes []string) error

func applyGroups(ctx context.Context, email string, groups []*trialGroup, fn downloadFunc) error {
	for _, g := range groups {
		if g.anyTypes {
			if err := fn(ctx, []string{email}, g.trial, nil); err != nil {
				return err
			}
		}
		if len(g.types) > 0 {
			if err := fn(ctx, []string{email}, g.trial, g.types); err != nil {
				return err
			}
		}
	}
	return nil
}

// GrantUserPermissions re-applies every cloud grant implied by user's
// permissions and refreshes the intake bucket. Idempotent.
func (s *Service) GrantUserPermissions(ctx context.Context, user *models.User) error {
	if !user.HasDownloadPermissions() {
		return nil
	}
	perms, err := s.FindForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(perms) > 0 {
		if err := s.access.GrantListerAccess(ctx, user.Email); err != nil {
			return err
		}
	}
	if err := applyGroups(ctx, user.Email, groupByTrial(perms), s.access.GrantDownloadAccess); err != nil {
		return err
	}
	return s.access.RefreshIntakeAccess(ctx, user.Email)
}

// RevokeUserPermissions removes every cloud grant implied by user's
// permissions, lister and intake access included. The rows stay.
func (s *Service) RevokeUserPermissions(ctx context.Context, user *models.User) error {
	if !user.HasDownloadPermissions() {
		return nil
	}
	perms, err := s.FindForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(perms) > 0 {
		if err := s.access.RevokeListerAccess(ctx, user.Email); err != nil {
			return err
		}
	}
	if err := applyGroups(ctx, user.Email, groupByTrial(perms), s.access.RevokeDownloadAccess); err != nil {
		return err
	}
	return s.access.RevokeIntakeAccess(ctx, user.Email)
}

// GrantAllIAMPermissions runs GrantUserPermissions for every enabled,
// non-admin, non-NCI user. Failures are collected and returned together.
func (s *Service) GrantAllIAMPermissions(ctx context.Context) error {
	return s.forEachUser(ctx, true, s.GrantUserPermissions)
}

// RevokeAllIAMPermissions runs RevokeUserPermissions for every non-admin
// user.
func (s *Service) RevokeAllIAMPermissions(ctx context.Context) error {
	return s.forEachUser(ctx, false, s.RevokeUserPermissions)
}

func (s *Service) forEachUser(ctx context.Context, granting bool, fn func(context.Context, *models.User) error) error {
	users, err := s.repomanager.Users(s.db).List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, u := range users {
		if u.IsAdmin() || (granting && (u.IsNCIUser() || u.Disabled)) {
			continue
		}
		if err := fn(ctx, u); err != nil {
			s.logger.Error(ctx, "bulk permission update failed", "user", u.Email, "error", err)
			errs = append(errs, err)
		}
	}
	return common.AsMultiError(errs)
}

func (s *Service) GrantDownloadPermissions(ctx context.Context, trial, uploadType models.Scope) error {
	return s.ChangeDownloadPermissions(ctx, trial, uploadType, true)
}

func (s *Service) RevokeDownloadPermissions(ctx context.Context, trial, uploadType models.Scope) error {
	return s.ChangeDownloadPermissions(ctx, trial, uploadType, false)
}

// ChangeDownloadPermissions grants or revokes the download access of every
// permission matching trial and uploadType, grouped into one job per
// scope. A specific filter replaces the row's own scope in the job. When
// uploadType is Every, clinical data rows are left alone. Granting also
// refreshes lister access; revoking never removes it, since other
// permissions of the same user may still need it. Admins are skipped: their
// access comes from IAM roles, not per-object grants.
func (s *Service) ChangeDownloadPermissions(ctx context.Context, trial, uploadType models.Scope, grant bool) error {
	grants, err := s.GetForTrialType(ctx, trial, uploadType)
	if err != nil {
		return err
	}

	var order []scopeKey
	emails := map[scopeKey][]string{}
	listed := map[string]struct{}{}

	for _, g := range grants {
		u := g.Grantee
		if u.IsAdmin() {
			continue
		}
		if grant && (u.IsNCIUser() || u.Disabled) {
			continue
		}
		if uploadType.IsEvery() && g.Permission.UploadType.Is(common.ClinicalDataUploadType) {
			continue
		}

		key := scopeKey{trial: trial, uploadType: uploadType}
		if trial.IsEvery() {
			key.trial = g.Permission.Trial
		}
		if uploadType.IsEvery() {
			key.uploadType = g.Permission.UploadType
		}
		if _, ok := emails[key]; !ok {
			order = append(order, key)
		}
		emails[key] = append(emails[key], u.Email)

		if grant {
			if _, ok := listed[u.Email]; !ok {
				if err := s.access.GrantListerAccess(ctx, u.Email); err != nil {
					return err
				}
				listed[u.Email] = struct{}{}
			}
		}
	}

	fn := s.access.RevokeDownloadAccess
	if grant {
		fn = s.access.GrantDownloadAccess
	}
	for _, key := range order {
		if err := fn(ctx, emails[key], key.trial, uploadTypes(key.uploadType)); err != nil {
			return err
		}
	}
	return nil
}

// GrantDownloadPermissionsForUploadJob grants the users allowed to see a
// newly merged upload access to its files. Shipping manifests publish
// their derived participant and sample files with an empty recipient list
// for the worker to resolve; irregular manifests have no files.
func (s *Service) GrantDownloadPermissionsForUploadJob(ctx context.Context, job *models.UploadJob) error {
	trial := models.Specific(job.TrialID)
	grants, err := s.GetForTrialType(ctx, trial, models.Specific(job.UploadType))
	if err != nil {
		return err
	}

	var recipients []string
	seen := map[string]struct{}{}
	for _, g := range grants {
		u := g.Grantee
		if _, dup := seen[u.Email]; dup || u.IsAdmin() || u.IsNCIUser() || u.Disabled {
			continue
		}
		seen[u.Email] = struct{}{}
		recipients = append(recipients, u.Email)
		if err := s.access.GrantListerAccess(ctx, u.Email); err != nil {
			return err
		}
	}

	switch {
	case models.IsShippingManifest(job.UploadType):
		for _, t := range []string{models.ParticipantsInfo, models.SamplesInfo} {
			if err := s.access.GrantDownloadAccess(ctx, []string{}, trial, []string{t}); err != nil {
				return err
			}
		}
		return nil
	case models.IsIrregularManifest(job.UploadType):
		return nil
	default:
		return s.access.GrantDownloadAccess(ctx, recipients, trial, []string{job.UploadType})
	}
}
