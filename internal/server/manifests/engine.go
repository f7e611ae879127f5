// Package manifests reconciles shipment manifests from the external sample
// management system with the registry: it detects field-level changes to
// known manifests, applies them to the trial document and the relational
// mirror, and inserts new manifests through explicit paths.
package manifests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/metrics"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
)

// TrialStore validates and writes a locked trial document.
type TrialStore interface {
	Save(ctx context.Context, tx dbx.DBTX, t *models.TrialMetadata) error
}

type Notifier interface {
	PatientSampleUpdate(ctx context.Context, manifestUploadID int64) error
}

type Engine struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	trials      TrialStore
	notifier    Notifier
	source      Source
	metrics     *metrics.Metrics
	logger      logging.Logger
}

func NewEngine(db *sql.DB, repomanager repomanager.RepositoryManager, trials TrialStore, notifier Notifier,
	source Source, m *metrics.Metrics, logger logging.Logger) *Engine {
	return &Engine{
		db:          db,
		repomanager: repomanager,
		trials:      trials,
		notifier:    notifier,
		source:      source,
		metrics:     m,
		logger:      logger.With("module", "manifests"),
	}
}

// Relational reports whether the normalized tables are maintained.
func (e *Engine) Relational() bool { return e.source == SourceRelational }

// DetectChanges compares a manifest with its stored state. It returns the
// records holding the new state, ordered for insertion, and the changes
// found. A manifest never seen before yields ErrNewManifest; moving a
// manifest to another trial or adding or dropping samples yields
// ErrCriticalFieldChange. Nothing is written.
func (e *Engine) DetectChanges(ctx context.Context, m Manifest, uploaderEmail string) (models.InsertionPlan, []*models.Change, error) {
	info, err := e.extractInfo(ctx, e.db, m)
	if err != nil {
		return nil, nil, err
	}
	priority, assayType, err := extractDetails(info)
	if err != nil {
		return nil, nil, err
	}
	upType, err := uploadType(info.samples)
	if err != nil {
		return nil, nil, err
	}

	state := newState(e.source, e.repomanager, e.db)
	plan := models.InsertionPlan{}
	var changes []*models.Change

	stored, err := state.Shipment(ctx, info.manifestID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrNewManifest, info.manifestID)
	}
	if err != nil {
		return nil, nil, err
	}
	if storedTrial := stored.String("trial_id"); storedTrial != info.trialID {
		return nil, nil, fmt.Errorf("%w: manifest %s moved from trial %s to %s",
			common.ErrCriticalFieldChange, info.manifestID, storedTrial, info.trialID)
	}

	shipment := shipmentRecord(info.trialID, m, priority, assayType)
	if c := calcDifference(models.KindShipment, stored.Fields, shipment.Fields, diffIgnore); c.HasChanges() {
		plan.Add(shipment)
		changes = append(changes, c)
	}

	storedSamples, err := state.Samples(ctx, info.trialID, info.manifestID)
	if err != nil {
		return nil, nil, err
	}
	storedByID := make(map[string]*models.Record, len(storedSamples))
	for _, r := range storedSamples {
		storedByID[r.String("cimac_id")] = r
	}

	converted, err := convertSamples(info, nil)
	if err != nil {
		return nil, nil, err
	}
	incomingByID := make(map[string]*models.Record, len(converted))
	for _, s := range converted {
		incomingByID[s.cimacID] = sampleRecord(info.trialID, info.manifestID, s)
	}

	for _, id := range sortedKeys(storedByID) {
		if _, ok := incomingByID[id]; !ok {
			return nil, nil, fmt.Errorf("%w: sample %s missing from manifest %s of trial %s",
				common.ErrCriticalFieldChange, id, info.manifestID, info.trialID)
		}
	}
	for _, id := range sortedKeys(incomingByID) {
		if _, ok := storedByID[id]; !ok {
			return nil, nil, fmt.Errorf("%w: sample %s is not part of stored manifest %s of trial %s",
				common.ErrCriticalFieldChange, id, info.manifestID, info.trialID)
		}
	}

	for _, id := range sortedKeys(incomingByID) {
		incoming := incomingByID[id]
		c := calcDifference(models.KindSample, storedByID[id].Fields, incoming.Fields, diffIgnore)
		if !c.HasChanges() {
			continue
		}
		changes = append(changes, c)

		participantLevel, sampleLevel := false, false
		for k := range c.Changes {
			if isParticipantField(k) {
				participantLevel = true
			} else {
				sampleLevel = true
			}
		}
		if participantLevel {
			plan.Add(participantRecord(incoming))
		}
		if sampleLevel {
			plan.Add(incoming)
		}
	}

	storedUpload, err := fieldsOrEmpty(state.Upload(ctx, info.trialID, info.manifestID))
	if err != nil {
		return nil, nil, err
	}
	upload := uploadRecord(info.trialID, info.manifestID, upType, uploaderEmail)
	if c := calcDifference(models.KindUpload, storedUpload, upload.Fields, uploadDiffIgnore); c.HasChanges() {
		plan.Add(upload)
		changes = append(changes, c)
	}

	for _, c := range changes {
		e.metrics.ManifestChange(string(c.EntityType))
	}
	e.logger.Info(ctx, "manifest changes detected",
		"trial_id", info.trialID, "manifest_id", info.manifestID, "changes", len(changes), "records", plan.Len())
	return plan, changes, nil
}

func isParticipantField(k string) bool {
	for _, f := range models.ParticipantFields {
		if f == k {
			return true
		}
	}
	return false
}
