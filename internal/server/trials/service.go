// Package trials owns the trial metadata document: creation, validated
// patching under a row lock, and the per-trial summaries served to the
// portal.
package trials

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
	trialsrepo "github.com/dmitrijs2005/trialregistry/internal/server/repositories/trials"
)

// MetadataValidator checks a metadata document against the trial schema.
type MetadataValidator interface {
	Validate(doc any) error
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	validator   MetadataValidator
	logger      logging.Logger
}

func NewService(db *sql.DB, repomanager repomanager.RepositoryManager, validator MetadataValidator, logger logging.Logger) *Service {
	return &Service{
		db:          db,
		repomanager: repomanager,
		validator:   validator,
		logger:      logger.With("module", "trials"),
	}
}

// ETag hashes the canonical JSON encoding of metadata. Map keys are
// encoded in sorted order, so equal documents hash equally.
func ETag(metadata map[string]any) (string, error) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:]), nil
}

// ValidateMetadata runs the schema validator over doc.
func (s *Service) ValidateMetadata(doc map[string]any) error {
	return s.validator.Validate(doc)
}

// stamp validates t's metadata and recomputes its etag.
func (s *Service) stamp(t *models.TrialMetadata) error {
	if id, _ := t.Metadata["protocol_identifier"].(string); id != t.TrialID {
		return common.NewValidationError("protocol_identifier %q does not match trial %q", id, t.TrialID)
	}
	if err := s.ValidateMetadata(t.Metadata); err != nil {
		return err
	}
	etag, err := ETag(t.Metadata)
	if err != nil {
		return err
	}
	t.ETag = etag
	return nil
}

func (s *Service) Create(ctx context.Context, trialID string, metadata map[string]any) (*models.TrialMetadata, error) {
	doc, err := normalize(metadata)
	if err != nil {
		return nil, err
	}
	t := &models.TrialMetadata{TrialID: trialID, Metadata: doc}
	if err := s.stamp(t); err != nil {
		return nil, err
	}
	created, err := s.repomanager.Trials(s.db).Create(ctx, t)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "trial created", "trial_id", trialID)
	return created, nil
}

func (s *Service) FindByTrialID(ctx context.Context, trialID string) (*models.TrialMetadata, error) {
	return s.repomanager.Trials(s.db).GetByTrialID(ctx, trialID)
}

func (s *Service) ListTrialIDs(ctx context.Context) ([]string, error) {
	return s.repomanager.Trials(s.db).ListTrialIDs(ctx)
}

// Save validates t, recomputes its etag and writes it through tx. Callers
// must hold the row lock taken by SelectForUpdate.
func (s *Service) Save(ctx context.Context, tx dbx.DBTX, t *models.TrialMetadata) error {
	if err := s.stamp(t); err != nil {
		return err
	}
	return s.repomanager.Trials(tx).UpdateMetadata(ctx, t)
}

var (
	manifestKeys = map[string]struct{}{"protocol_identifier": {}, "participants": {}, "shipments": {}}
	assayKeys    = map[string]struct{}{"protocol_identifier": {}, "assays": {}, "analysis": {}, "clinical_data": {}}
)

// PatchManifest merges a shipping manifest patch (participants and
// shipments) into the trial document.
func (s *Service) PatchManifest(ctx context.Context, trialID string, patch map[string]any) (*models.TrialMetadata, error) {
	return s.patch(ctx, trialID, patch, manifestKeys)
}

// PatchAssays merges an assay or analysis patch into the trial document.
func (s *Service) PatchAssays(ctx context.Context, trialID string, patch map[string]any) (*models.TrialMetadata, error) {
	return s.patch(ctx, trialID, patch, assayKeys)
}

func (s *Service) patch(ctx context.Context, trialID string, patch map[string]any, allowed map[string]struct{}) (*models.TrialMetadata, error) {
	var bad []string
	for k := range patch {
		if _, ok := allowed[k]; !ok {
			bad = append(bad, k)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return nil, common.NewValidationError("patch may not modify %v", bad)
	}
	if id, ok := patch["protocol_identifier"]; ok && id != trialID {
		return nil, common.NewValidationError("patch protocol_identifier %v does not match trial %q", id, trialID)
	}
	doc, err := normalize(patch)
	if err != nil {
		return nil, err
	}

	var out *models.TrialMetadata
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		t, err := s.repomanager.Trials(tx).SelectForUpdate(ctx, trialID)
		if err != nil {
			return fmt.Errorf("trial %s: %w", trialID, err)
		}
		t.Metadata = Merge(t.Metadata, doc)
		if err := s.Save(ctx, tx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "trial metadata patched", "trial_id", trialID, "etag", out.ETag)
	return out, nil
}

// BuildTrialFilter returns the trial ids user may see. A nil result means
// no restriction: the user is an admin or holds a cross-trial permission.
func (s *Service) BuildTrialFilter(ctx context.Context, user *models.User) ([]string, error) {
	if user.IsAdmin() {
		return nil, nil
	}
	perms, err := s.repomanager.Permissions(s.db).ListForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	ids := []string{}
	seen := map[string]struct{}{}
	for _, p := range perms {
		id, ok := p.Trial.Value()
		if !ok {
			return nil, nil
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// GetSummaries aggregates the trials visible to user.
func (s *Service) GetSummaries(ctx context.Context, user *models.User) ([]*models.TrialSummary, error) {
	filter, err := s.BuildTrialFilter(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.repomanager.Trials(s.db).Summaries(ctx, filter)
}

func (s *Service) GetMetadataCounts(ctx context.Context) (*trialsrepo.Counts, error) {
	return s.repomanager.Trials(s.db).Counts(ctx)
}
