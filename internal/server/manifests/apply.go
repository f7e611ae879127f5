package manifests

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

// participantChange gathers the new values for one participant and its
// samples.
type participantChange struct {
	fields  map[string]any
	samples map[string]map[string]any
	order   []string
}

// UpdateWithChanges applies the output of DetectChanges. The trial
// document is updated and committed first; only then are the linked upload
// job and, when maintained, the relational mirror brought in line. Every
// independent failure is returned rather than only the first.
func (e *Engine) UpdateWithChanges(ctx context.Context, trialID string, plan models.InsertionPlan, changes []*models.Change) []error {
	if len(changes) == 0 {
		return nil
	}
	manifestID := changes[0].ManifestID

	shipment := map[string]any{}
	newUploadType := ""
	participants := map[string]*participantChange{}
	var participantOrder []string

	for _, c := range changes {
		if c.TrialID != trialID {
			return []error{fmt.Errorf("change for trial %s cannot update trial %s", c.TrialID, trialID)}
		}
		switch c.EntityType {
		case models.KindShipment:
			for k, fc := range c.Changes {
				shipment[k] = fc.New
			}
		case models.KindUpload:
			if fc, ok := c.Changes["upload_type"]; ok {
				newUploadType, _ = fc.New.(string)
			}
		case models.KindSample:
			pid := CIMACParticipantID(c.CIMACID)
			pc, ok := participants[pid]
			if !ok {
				pc = &participantChange{fields: map[string]any{}, samples: map[string]map[string]any{}}
				participants[pid] = pc
				participantOrder = append(participantOrder, pid)
			}
			sample := map[string]any{}
			for k, fc := range c.Changes {
				if isParticipantField(k) {
					pc.fields[k] = fc.New
				} else {
					sample[k] = fc.New
				}
			}
			if len(sample) > 0 {
				sample["cimac_id"] = c.CIMACID
				sample["shipment_manifest_id"] = c.ManifestID
				if _, seen := pc.samples[c.CIMACID]; !seen {
					pc.order = append(pc.order, c.CIMACID)
				}
				pc.samples[c.CIMACID] = sample
			}
		}
	}

	var merged map[string]any
	err := dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		t, err := e.repomanager.Trials(tx).SelectForUpdate(ctx, trialID)
		if err != nil {
			return fmt.Errorf("trial %s: %w", trialID, err)
		}
		doc, err := deepCopy(t.Metadata)
		if err != nil {
			return err
		}
		for _, pid := range participantOrder {
			applyParticipant(doc, pid, participants[pid])
		}
		if len(shipment) > 0 {
			applyShipment(doc, manifestID, shipment)
		}
		t.Metadata = doc
		if err := e.trials.Save(ctx, tx, t); err != nil {
			return err
		}
		merged = doc
		return nil
	})
	if err != nil {
		return []error{err}
	}

	var errs []error
	err = dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := e.repomanager.UploadJobs(tx)
		jobs, err := repo.ListForManifest(ctx, trialID, manifestID)
		if err != nil || len(jobs) == 0 {
			return err
		}
		job := jobs[0]
		// the stored patch mirrors the whole document, not only the delta;
		// the job stays linked through ShipmentManifestID
		job.MetadataPatch = merged
		if newUploadType != "" {
			job.UploadType = newUploadType
		}
		return repo.Update(ctx, job)
	})
	if err != nil {
		return append(errs, fmt.Errorf("update upload job for manifest %s: %w", manifestID, err))
	}

	if e.Relational() {
		errs = append(errs, e.InsertBatch(ctx, plan, false)...)
	}
	if len(errs) == 0 {
		e.logger.Info(ctx, "manifest changes applied", "trial_id", trialID, "manifest_id", manifestID, "changes", len(changes))
	}
	return errs
}

func applyShipment(doc map[string]any, manifestID string, fields map[string]any) {
	for _, sh := range objects(doc["shipments"]) {
		if sh["manifest_id"] == manifestID {
			for k, v := range fields {
				if k != "trial_id" {
					sh[k] = v
				}
			}
			return
		}
	}
}

// applyParticipant updates a participant and its samples in place,
// appending whatever is not found.
func applyParticipant(doc map[string]any, pid string, pc *participantChange) {
	var target map[string]any
	for _, p := range objects(doc["participants"]) {
		if p["cimac_participant_id"] == pid {
			target = p
			break
		}
	}
	if target == nil {
		target = map[string]any{"cimac_participant_id": pid, "samples": []any{}}
		list, _ := doc["participants"].([]any)
		doc["participants"] = append(list, target)
	}
	for k, v := range pc.fields {
		target[k] = v
	}

	samples, _ := target["samples"].([]any)
	for _, id := range pc.order {
		fields := pc.samples[id]
		found := false
		for _, s := range objects(samples) {
			if s["cimac_id"] == id {
				for k, v := range fields {
					if k != "shipment_manifest_id" {
						s[k] = v
					}
				}
				found = true
				break
			}
		}
		if !found {
			fresh := make(map[string]any, len(fields))
			for k, v := range fields {
				fresh[k] = v
			}
			samples = append(samples, fresh)
		}
	}
	target["samples"] = samples
}

func deepCopy(doc map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
