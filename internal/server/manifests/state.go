package manifests

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
)

// Source selects where the stored side of a reconciliation is read from.
type Source string

const (
	// SourceRelational reads the normalized shipment, participant, sample
	// and upload tables.
	SourceRelational Source = "relational"
	// SourceBlob reads the trial metadata documents and upload jobs.
	SourceBlob Source = "blob"
)

// State is the stored representation a manifest is diffed against.
// Shipment and Upload return common.ErrorNotFound when nothing is stored.
type State interface {
	Shipment(ctx context.Context, manifestID string) (*models.Record, error)
	Samples(ctx context.Context, trialID, manifestID string) ([]*models.Record, error)
	Upload(ctx context.Context, trialID, manifestID string) (*models.Record, error)
}

func newState(src Source, rm repomanager.RepositoryManager, db dbx.DBTX) State {
	if src == SourceRelational {
		return &relationalState{rm: rm, db: db}
	}
	return &blobState{rm: rm, db: db}
}

type relationalState struct {
	rm repomanager.RepositoryManager
	db dbx.DBTX
}

func (s *relationalState) Shipment(ctx context.Context, manifestID string) (*models.Record, error) {
	return s.rm.Manifests(s.db).ShipmentByManifestID(ctx, manifestID)
}

func (s *relationalState) Samples(ctx context.Context, _, manifestID string) ([]*models.Record, error) {
	return s.rm.Manifests(s.db).SamplesByManifestID(ctx, manifestID)
}

func (s *relationalState) Upload(ctx context.Context, _, manifestID string) (*models.Record, error) {
	return s.rm.Manifests(s.db).UploadByManifestID(ctx, manifestID)
}

type blobState struct {
	rm repomanager.RepositoryManager
	db dbx.DBTX
}

func objects(v any) []map[string]any {
	list, _ := v.([]any)
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// Shipment scans every trial document for the manifest id, which is unique
// across trials.
func (s *blobState) Shipment(ctx context.Context, manifestID string) (*models.Record, error) {
	repo := s.rm.Trials(s.db)
	ids, err := repo.ListTrialIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		t, err := repo.GetByTrialID(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, sh := range objects(t.Metadata["shipments"]) {
			if sh["manifest_id"] != manifestID {
				continue
			}
			f := make(map[string]any, len(sh)+1)
			for k, v := range sh {
				f[k] = v
			}
			f["trial_id"] = t.TrialID
			return &models.Record{Kind: models.KindShipment, Fields: f}, nil
		}
	}
	return nil, common.ErrorNotFound
}

// Samples returns the trial's samples shipped under manifestID, with the
// participant fields folded in.
func (s *blobState) Samples(ctx context.Context, trialID, manifestID string) ([]*models.Record, error) {
	t, err := s.rm.Trials(s.db).GetByTrialID(ctx, trialID)
	if err != nil {
		return nil, err
	}
	var out []*models.Record
	for _, p := range objects(t.Metadata["participants"]) {
		for _, smp := range objects(p["samples"]) {
			if smp["shipment_manifest_id"] != manifestID {
				continue
			}
			f := map[string]any{}
			for k, v := range smp {
				if k != "shipment_manifest_id" {
					f[k] = v
				}
			}
			for _, k := range models.ParticipantFields {
				if v, ok := p[k]; ok {
					f[k] = v
				}
			}
			f["trial_id"] = trialID
			f["manifest_id"] = manifestID
			f["cimac_participant_id"] = p["cimac_participant_id"]
			out = append(out, &models.Record{Kind: models.KindSample, Fields: f})
		}
	}
	return out, nil
}

// Upload describes the merged upload job whose patch carries the manifest.
func (s *blobState) Upload(ctx context.Context, trialID, manifestID string) (*models.Record, error) {
	jobs, err := s.rm.UploadJobs(s.db).ListForManifest(ctx, trialID, manifestID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, common.ErrorNotFound
	}
	j := jobs[0]
	return &models.Record{Kind: models.KindUpload, Fields: map[string]any{
		"trial_id":             j.TrialID,
		"shipment_manifest_id": manifestID,
		"upload_type":          j.UploadType,
		"status":               string(j.Status),
		"multifile":            j.MultifileUpload,
		"assay_creator":        j.AssayCreator,
		"uploader_email":       j.UploaderEmail,
	}}, nil
}

// fieldsOrEmpty turns a not-found lookup into an empty stored record.
func fieldsOrEmpty(r *models.Record, err error) (map[string]any, error) {
	if errors.Is(err, common.ErrorNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	return r.Fields, nil
}
