package manifests

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/trials"
	"github.com/google/uuid"
)

// groupByParticipant splits sample records per participant, keeping
// first-seen order.
func groupByParticipant(samples []*models.Record) ([]string, map[string][]*models.Record) {
	var order []string
	groups := map[string][]*models.Record{}
	for _, s := range samples {
		pid := s.String("cimac_participant_id")
		if _, ok := groups[pid]; !ok {
			order = append(order, pid)
		}
		groups[pid] = append(groups[pid], s)
	}
	return order, groups
}

// checkAllowList verifies v is one of the trial's allowed values for list.
func checkAllowList(doc map[string]any, list string, v any) error {
	allowed, ok := doc[list].([]any)
	if !ok {
		return nil
	}
	for _, a := range allowed {
		if reflect.DeepEqual(a, v) {
			return nil
		}
	}
	return fmt.Errorf("%w: %v is not in %s", common.ErrAllowListViolation, v, list)
}

// blobPatch renders a new manifest as a trial document patch.
func blobPatch(trialID string, shipment *models.Record, samples []*models.Record) map[string]any {
	sh := map[string]any{}
	for k, v := range shipment.Fields {
		if k != "trial_id" {
			sh[k] = v
		}
	}

	order, groups := groupByParticipant(samples)
	participants := make([]any, 0, len(order))
	for _, pid := range order {
		group := groups[pid]
		p := map[string]any{"cimac_participant_id": pid}
		for k, v := range participantRecord(group[0]).Fields {
			if k != "trial_id" {
				p[k] = v
			}
		}
		list := make([]any, 0, len(group))
		for _, s := range group {
			obj := map[string]any{}
			for k, v := range s.Fields {
				switch {
				case k == "trial_id", k == "cimac_participant_id", isParticipantField(k):
				case k == "manifest_id":
					obj["shipment_manifest_id"] = v
				default:
					obj[k] = v
				}
			}
			list = append(list, obj)
		}
		p["samples"] = list
		participants = append(participants, p)
	}

	return map[string]any{
		"protocol_identifier": trialID,
		"shipments":           []any{sh},
		"participants":        participants,
	}
}

// InsertIntoBlob merges a new manifest into its trial document and records
// a merged upload job for it. Cohort and collection event names must be in
// the trial's allow-lists.
func (e *Engine) InsertIntoBlob(ctx context.Context, m Manifest, uploaderEmail string) (*models.UploadJob, error) {
	var job *models.UploadJob
	err := dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		info, err := e.extractInfo(ctx, tx, m)
		if err != nil {
			return err
		}
		t, err := e.repomanager.Trials(tx).SelectForUpdate(ctx, info.trialID)
		if err != nil {
			return err
		}
		existing := map[string]struct{}{}
		for _, sh := range objects(t.Metadata["shipments"]) {
			if sh["manifest_id"] == info.manifestID {
				return fmt.Errorf("%w: manifest %s for trial %s", common.ErrAlreadyExists, info.manifestID, info.trialID)
			}
		}
		for _, p := range objects(t.Metadata["participants"]) {
			for _, s := range objects(p["samples"]) {
				if id, ok := s["cimac_id"].(string); ok {
					existing[id] = struct{}{}
				}
			}
		}

		priority, assayType, err := extractDetails(info)
		if err != nil {
			return err
		}
		upType, err := uploadType(info.samples)
		if err != nil {
			return err
		}
		converted, err := convertSamples(info, existing)
		if err != nil {
			return err
		}
		samples := make([]*models.Record, 0, len(converted))
		for _, s := range converted {
			r := sampleRecord(info.trialID, info.manifestID, s)
			if err := checkAllowList(t.Metadata, "allowed_cohort_names", r.Fields["cohort_name"]); err != nil {
				return err
			}
			if err := checkAllowList(t.Metadata, "allowed_collection_event_names", r.Fields["collection_event_name"]); err != nil {
				return err
			}
			samples = append(samples, r)
		}

		patch := blobPatch(info.trialID, shipmentRecord(info.trialID, m, priority, assayType), samples)
		t.Metadata = trials.Merge(t.Metadata, patch)
		if err := e.trials.Save(ctx, tx, t); err != nil {
			return err
		}

		job, err = e.repomanager.UploadJobs(tx).Create(ctx, &models.UploadJob{
			TrialID:            info.trialID,
			UploadType:         upType,
			UploaderEmail:      uploaderEmail,
			Status:             models.StatusMergeCompleted,
			AssayCreator:       assayCreator,
			MetadataPatch:      patch,
			Token:              uuid.NewString(),
			ShipmentManifestID: info.manifestID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := e.notifier.PatientSampleUpdate(ctx, job.ID); err != nil {
		return job, fmt.Errorf("publish patient/sample update: %w", err)
	}
	e.logger.Info(ctx, "manifest inserted into trial document", "trial_id", job.TrialID, "manifest_id", job.ShipmentManifestID)
	return job, nil
}

// InsertFromJSON writes a new manifest into the relational mirror. Every
// sample's collection event must exist for the trial.
func (e *Engine) InsertFromJSON(ctx context.Context, m Manifest, uploaderEmail string) error {
	info, err := e.extractInfo(ctx, e.db, m)
	if err != nil {
		return err
	}
	repo := e.repomanager.Manifests(e.db)

	sh, err := repo.ShipmentByManifestID(ctx, info.manifestID)
	switch {
	case err == nil && sh.String("trial_id") == info.trialID:
		return fmt.Errorf("%w: manifest %s for trial %s", common.ErrAlreadyExists, info.manifestID, info.trialID)
	case err == nil:
		return fmt.Errorf("%w: manifest %s belongs to trial %s", common.ErrCriticalFieldChange, info.manifestID, sh.String("trial_id"))
	case !errors.Is(err, common.ErrorNotFound):
		return err
	}

	ids, err := repo.CIMACIDs(ctx, info.trialID)
	if err != nil {
		return err
	}
	existing := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		existing[id] = struct{}{}
	}

	priority, assayType, err := extractDetails(info)
	if err != nil {
		return err
	}
	upType, err := uploadType(info.samples)
	if err != nil {
		return err
	}
	converted, err := convertSamples(info, existing)
	if err != nil {
		return err
	}

	plan := models.InsertionPlan{}
	plan.Add(shipmentRecord(info.trialID, m, priority, assayType))

	var samples []*models.Record
	for _, s := range converted {
		samples = append(samples, sampleRecord(info.trialID, info.manifestID, s))
	}
	order, groups := groupByParticipant(samples)
	for _, pid := range order {
		known, err := repo.ParticipantExists(ctx, info.trialID, pid)
		if err != nil {
			return err
		}
		if !known {
			plan.Add(participantRecord(groups[pid][0]))
		}
		for _, s := range groups[pid] {
			event := s.String("collection_event_name")
			ok, err := repo.CollectionEventExists(ctx, info.trialID, event)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s for trial %s, needed for sample %s on manifest %s",
					common.ErrUnknownCollectionEvent, event, info.trialID, s.String("cimac_id"), info.manifestID)
			}
			plan.Add(s)
		}
	}
	plan.Add(uploadRecord(info.trialID, info.manifestID, upType, uploaderEmail))

	if errs := e.InsertBatch(ctx, plan, false); len(errs) > 0 {
		return common.AsMultiError(errs)
	}
	e.logger.Info(ctx, "manifest inserted into relational tables", "trial_id", info.trialID, "manifest_id", info.manifestID, "records", plan.Len())
	return nil
}

// InsertBatch upserts the plan's records in dependency order, each under
// its own savepoint. A failing record is reported and the rest are still
// attempted, but any failure rolls the whole batch back. A dry run always
// rolls back.
func (e *Engine) InsertBatch(ctx context.Context, plan models.InsertionPlan, dryRun bool) []error {
	var errs []error
	err := dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := e.repomanager.Manifests(tx)
		for i, rec := range plan.Ordered() {
			err := dbx.WithSavepoint(ctx, tx, fmt.Sprintf("record_%d", i), func(ctx context.Context) error {
				return repo.Upsert(ctx, rec)
			})
			if err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 || dryRun {
			return dbx.ErrRollbackOnly
		}
		return nil
	})
	if err != nil {
		errs = append(errs, err)
	}
	return errs
}
