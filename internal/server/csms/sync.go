package csms

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/manifests"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

// ManifestSource lists the manifests to reconcile.
type ManifestSource interface {
	Manifests(ctx context.Context) ([]manifests.Manifest, error)
}

// Reconciler is implemented by *manifests.Engine.
type Reconciler interface {
	DetectChanges(ctx context.Context, m manifests.Manifest, uploaderEmail string) (models.InsertionPlan, []*models.Change, error)
	UpdateWithChanges(ctx context.Context, trialID string, plan models.InsertionPlan, changes []*models.Change) []error
	InsertIntoBlob(ctx context.Context, m manifests.Manifest, uploaderEmail string) (*models.UploadJob, error)
	InsertFromJSON(ctx context.Context, m manifests.Manifest, uploaderEmail string) error
	Relational() bool
}

type Action string

const (
	ActionUnchanged Action = "unchanged"
	ActionUpdated   Action = "updated"
	ActionInserted  Action = "inserted"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
)

// Result is the outcome of syncing one manifest.
type Result struct {
	ManifestID string           `json:"manifest_id"`
	Action     Action           `json:"action"`
	Changes    []*models.Change `json:"changes,omitempty"`
	Err        error            `json:"-"`
}

type Syncer struct {
	source ManifestSource
	engine Reconciler
	logger logging.Logger
}

func NewSyncer(source ManifestSource, engine Reconciler, logger logging.Logger) *Syncer {
	return &Syncer{source: source, engine: engine, logger: logger.With("module", "csms")}
}

// SyncManifests reconciles every manifest of the source. One manifest
// failing does not stop the others; the failures are returned together.
func (s *Syncer) SyncManifests(ctx context.Context, uploaderEmail string) ([]Result, error) {
	list, err := s.source.Manifests(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(list))
	var errs []error
	for _, m := range list {
		r := s.SyncManifest(ctx, m, uploaderEmail)
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
		results = append(results, r)
	}
	s.logger.Info(ctx, "csms sync finished", "manifests", len(list), "failures", len(errs))
	return results, common.AsMultiError(errs)
}

// SyncManifest reconciles one manifest: unknown manifests are inserted,
// known ones get their changes applied. Manifests that are not finalized
// are skipped.
func (s *Syncer) SyncManifest(ctx context.Context, m manifests.Manifest, uploaderEmail string) Result {
	id, _ := m["manifest_id"].(string)
	r := Result{ManifestID: id}
	if st, ok := m["status"]; ok && st != nil && st != "qc_complete" {
		r.Action = ActionSkipped
		return r
	}

	plan, changes, err := s.engine.DetectChanges(ctx, m, uploaderEmail)
	switch {
	case errors.Is(err, common.ErrNewManifest):
		if _, err := s.engine.InsertIntoBlob(ctx, m, uploaderEmail); err != nil {
			return s.fail(ctx, r, err)
		}
		if s.engine.Relational() {
			if err := s.engine.InsertFromJSON(ctx, m, uploaderEmail); err != nil {
				return s.fail(ctx, r, err)
			}
		}
		r.Action = ActionInserted
		return r
	case err != nil:
		return s.fail(ctx, r, err)
	case len(changes) == 0:
		r.Action = ActionUnchanged
		return r
	}

	if errs := s.engine.UpdateWithChanges(ctx, changes[0].TrialID, plan, changes); len(errs) > 0 {
		r.Changes = changes
		return s.fail(ctx, r, common.AsMultiError(errs))
	}
	r.Action, r.Changes = ActionUpdated, changes
	return r
}

func (s *Syncer) fail(ctx context.Context, r Result, err error) Result {
	s.logger.Warn(ctx, "manifest sync failed", "manifest_id", r.ManifestID, "error", err)
	r.Action, r.Err = ActionFailed, err
	return r
}
