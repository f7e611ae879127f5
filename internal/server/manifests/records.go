package manifests

import (
	"reflect"
	"sort"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

// assayCreator is the organization credited with manifest uploads.
const assayCreator = "DFCI"

// diffIgnore lists fields that never count as a change: audit and
// provenance values, the nested sample list, status and free-text QC.
var diffIgnore = map[string]struct{}{
	"barcode": {}, "biobank_id": {}, "entry_number": {}, "modified_time": {}, "modified_timestamp": {},
	"qc_comments": {}, "sample_approved": {}, "samples": {}, "status": {}, "submitter": {},
}

var uploadDiffIgnore = map[string]struct{}{"id": {}, "token": {}, "uploader_email": {}}

// sampleDrop are manifest-level keys carried on every sample that are not
// sample attributes.
var sampleDrop = map[string]struct{}{
	"protocol_identifier": {}, "standardized_collection_event_name": {}, "samples": {},
}

// shipmentRecord builds the shipment row for a manifest.
func shipmentRecord(trialID string, m Manifest, priority, assayType string) *models.Record {
	f := map[string]any{}
	for _, k := range models.ShipmentFields {
		if v, ok := m[k]; ok {
			f[k] = v
		}
	}
	f["trial_id"] = trialID
	f["assay_priority"] = priority
	f["assay_type"] = assayType
	return &models.Record{Kind: models.KindShipment, Fields: f}
}

// sampleRecord builds the sample row, with the participant-level fields
// folded in as the stored samples have them.
func sampleRecord(trialID, manifestID string, s *convertedSample) *models.Record {
	f := map[string]any{}
	for k, v := range s.fields {
		if _, skip := sampleDrop[k]; !skip {
			f[k] = v
		}
	}
	f["trial_id"] = trialID
	f["manifest_id"] = manifestID
	f["cimac_participant_id"] = CIMACParticipantID(s.cimacID)
	return &models.Record{Kind: models.KindSample, Fields: f}
}

// participantRecord pulls the participant row out of a sample row.
func participantRecord(sample *models.Record) *models.Record {
	f := map[string]any{
		"trial_id":             sample.Fields["trial_id"],
		"cimac_participant_id": sample.Fields["cimac_participant_id"],
	}
	for _, k := range models.ParticipantFields {
		if v, ok := sample.Fields[k]; ok {
			f[k] = v
		}
	}
	return &models.Record{Kind: models.KindParticipant, Fields: f}
}

func uploadRecord(trialID, manifestID, uploadType, uploaderEmail string) *models.Record {
	return &models.Record{Kind: models.KindUpload, Fields: map[string]any{
		"trial_id":             trialID,
		"shipment_manifest_id": manifestID,
		"upload_type":          uploadType,
		"status":               string(models.StatusMergeCompleted),
		"multifile":            false,
		"assay_creator":        assayCreator,
		"uploader_email":       uploaderEmail,
	}}
}

func diffValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format("2006-01-02 15:04:05")
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return v
}

// calcDifference compares a stored record with the incoming one and
// returns the differing fields as (stored, incoming) pairs. Keys in ignore
// are skipped and a missing key equals nil. The incoming
// protocol_identifier is compared as trial_id.
func calcDifference(kind models.EntityKind, stored, incoming map[string]any, ignore map[string]struct{}) *models.Change {
	in := make(map[string]any, len(incoming))
	for k, v := range incoming {
		if k == "protocol_identifier" {
			k = "trial_id"
		}
		in[k] = v
	}

	keys := map[string]struct{}{}
	for k := range stored {
		keys[k] = struct{}{}
	}
	for k := range in {
		keys[k] = struct{}{}
	}

	changes := map[string]models.FieldChange{}
	for k := range keys {
		if _, skip := ignore[k]; skip {
			continue
		}
		if !reflect.DeepEqual(diffValue(stored[k]), diffValue(in[k])) {
			changes[k] = models.FieldChange{Old: stored[k], New: in[k]}
		}
	}

	c := &models.Change{EntityType: kind, Changes: changes}
	c.TrialID, _ = in["trial_id"].(string)
	if id, ok := in["manifest_id"].(string); ok {
		c.ManifestID = id
	} else {
		c.ManifestID, _ = in["shipment_manifest_id"].(string)
	}
	if kind == models.KindSample {
		c.CIMACID, _ = in["cimac_id"].(string)
	}
	return c
}

func sortedKeys(m map[string]*models.Record) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
