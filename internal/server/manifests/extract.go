package manifests

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
)

// Manifest is a shipment manifest as delivered by the external sample
// management system: shipment fields plus a "samples" list.
type Manifest map[string]any

var cimacIDPattern = regexp.MustCompile(`^C[A-Z0-9]{3}[A-Z0-9]{3}[A-Z0-9]{2}\.[0-9]{2}$`)

// CIMACParticipantID is the participant part of a CIMAC sample id.
func CIMACParticipantID(cimacID string) string {
	if len(cimacID) < 7 {
		return cimacID
	}
	return cimacID[:7]
}

// samples returns the manifest's sample list as objects.
func (m Manifest) samples() []map[string]any {
	raw, _ := m["samples"].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, s := range raw {
		if sm, ok := s.(map[string]any); ok {
			out = append(out, sm)
		}
	}
	return out
}

// consistent returns the single value key takes across samples, or def
// when none of them sets it. Lists and objects are rejected.
func consistent(samples []map[string]any, key string, def any) (any, error) {
	var out any
	for i, s := range samples {
		v, ok := s[key]
		if !ok {
			v = def
		}
		switch v.(type) {
		case []any, map[string]any:
			return nil, common.NewValidationError("%s must be a single value, got %v", key, v)
		}
		if i > 0 && !reflect.DeepEqual(v, out) {
			return nil, common.NewValidationError("inconsistent value provided for %s", key)
		}
		out = v
	}
	return out, nil
}

// manifestInfo is what extraction learns about a manifest.
type manifestInfo struct {
	trialID    string
	manifestID string
	samples    []map[string]any
}

// extractInfo checks the manifest is finalized, non-empty and tied to one
// trial that exists.
func (e *Engine) extractInfo(ctx context.Context, db dbx.DBTX, m Manifest) (*manifestInfo, error) {
	manifestID, _ := m["manifest_id"].(string)
	if manifestID == "" {
		return nil, common.NewValidationError("no manifest_id in manifest")
	}
	if st, ok := m["status"]; ok && st != nil && st != "qc_complete" {
		return nil, common.NewValidationError("cannot add manifest %s that is not qc_complete", manifestID)
	}
	samples := m.samples()
	if len(samples) == 0 {
		return nil, common.NewValidationError("manifest %s contains no samples", manifestID)
	}
	trial, err := consistent(samples, "protocol_identifier", nil)
	if err != nil {
		return nil, err
	}
	trialID, _ := trial.(string)
	if trialID == "" {
		return nil, common.NewValidationError("no consistent protocol_identifier defined for samples on manifest %s", manifestID)
	}

	if _, err := e.repomanager.Trials(db).GetByTrialID(ctx, trialID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("%w: %s", common.ErrUnknownTrial, trialID)
		}
		return nil, err
	}
	return &manifestInfo{trialID: trialID, manifestID: manifestID, samples: samples}, nil
}

// extractDetails returns the assay priority and type shared by all samples.
func extractDetails(info *manifestInfo) (string, string, error) {
	priority, err := consistent(info.samples, "assay_priority", "Not Reported")
	if err != nil {
		return "", "", err
	}
	assayType, err := consistent(info.samples, "assay_type", nil)
	if err != nil {
		return "", "", err
	}
	p, _ := priority.(string)
	t, _ := assayType.(string)
	if p == "" {
		return "", "", common.NewValidationError("no assay_priority defined for manifest_id=%s for trial %s", info.manifestID, info.trialID)
	}
	if t == "" {
		return "", "", common.NewValidationError("no assay_type defined for manifest_id=%s for trial %s", info.manifestID, info.trialID)
	}
	return p, t, nil
}

var directUploadTypes = map[string]struct{}{
	"pbmc": {}, "plasma": {}, "tissue_slide": {}, "normal_blood_dna": {}, "normal_tissue_dna": {},
	"tumor_tissue_dna": {}, "tumor_tissue_rna": {}, "h_and_e": {},
}

// sampleUploadType derives one sample's upload type. The empty string means
// the sample carries too little information to classify.
func sampleUploadType(s map[string]any) string {
	str := func(k string) string { v, _ := s[k].(string); return v }

	processed := strings.ToLower(str("processed_sample_type"))
	if processed == "h&e-stained fixed tissue slide specimen" {
		processed = "h_and_e"
	}
	if _, ok := directUploadTypes[processed]; ok {
		return processed
	}

	manifestType := str("sample_manifest_type")
	derivative := str("processed_sample_derivative")
	switch {
	case manifestType == "":
		return ""
	case manifestType == "biofluid_cellular":
		return "pbmc"
	case manifestType == "tissue_slides":
		return "tissue_slide"
	case derivative == "Germline DNA":
		return "normal_" + strings.ToLower(strings.Fields(manifestType)[0]) + "_dna"
	case derivative == "Tumor DNA":
		return "tumor_" + strings.Fields(manifestType)[0] + "_dna"
	case derivative == "DNA" || derivative == "RNA":
		kind := "normal"
		if strings.Contains(strings.ToLower(str("type_of_sample")), "tumor") {
			kind = "tumor"
		}
		site := "_tissue_"
		if strings.HasPrefix(manifestType, "biofluid") {
			site = "_blood_"
		}
		return kind + site + strings.ToLower(derivative)
	}
	return ""
}

// uploadType derives the single upload type of a homogeneous manifest.
func uploadType(samples []map[string]any) (string, error) {
	types := map[string]struct{}{}
	var first string
	for _, s := range samples {
		t := sampleUploadType(s)
		if t == "" {
			continue
		}
		if len(types) == 0 {
			first = t
		}
		types[t] = struct{}{}
	}
	if len(types) != 1 {
		found := make([]string, 0, len(types))
		for t := range types {
			found = append(found, t)
		}
		return "", common.NewValidationError("inconsistent value determined for upload_type: %v", found)
	}
	return first, nil
}

var processedSampleTypes = map[string]string{
	"tissue_slide":      "Fixed Slide",
	"tumor_tissue_dna":  "Tissue Scroll",
	"plasma":            "Plasma",
	"normal_tissue_dna": "Tissue Scroll",
	"h_and_e":           "H&E-Stained Fixed Tissue Slide Specimen",
}

// convertedSample is a manifest sample rewritten into the registry's field
// names.
type convertedSample struct {
	cimacID string
	fields  map[string]any
}

// convertSamples normalizes every sample, stopping at the first invalid
// one. Ids listed in existing are rejected as already present.
func convertSamples(info *manifestInfo, existing map[string]struct{}) ([]*convertedSample, error) {
	out := make([]*convertedSample, 0, len(info.samples))
	for n, raw := range info.samples {
		s := make(map[string]any, len(raw)+4)
		for k, v := range raw {
			s[k] = v
		}
		cimacID, _ := s["cimac_id"].(string)

		event, ok := s["standardized_collection_event_name"].(string)
		if !ok || event == "" {
			return nil, common.NewValidationError("no standardized_collection_event_name defined for sample %s on manifest %s for trial %s",
				cimacID, info.manifestID, info.trialID)
		}
		s["collection_event_name"] = event

		if t, ok := s["processed_sample_type"].(string); ok {
			if mapped, ok := processedSampleTypes[t]; ok {
				s["processed_sample_type"] = mapped
			}
		}
		if v, ok := s["fixation_or_stabilization_type"]; ok {
			s["fixation_stabilization_type"] = v
			delete(s, "fixation_or_stabilization_type")
		}
		if v, ok := s["sample_derivative_concentration"]; ok {
			f, err := toFloat(v)
			if err != nil {
				return nil, common.NewValidationError("sample %s: sample_derivative_concentration: %v", cimacID, err)
			}
			s["sample_derivative_concentration"] = f
		}
		if s["type_of_sample"] == "Blood" {
			if _, ok := s["type_of_primary_container"]; !ok {
				s["type_of_primary_container"] = "Not Reported"
			}
		}
		if _, ok := s["parent_sample_id"]; !ok {
			s["parent_sample_id"] = "Not Reported"
		}

		switch {
		case cimacID == "":
			return nil, common.NewValidationError("no cimac_id defined for samples[%d] on manifest_id=%s for trial %s", n, info.manifestID, info.trialID)
		case !cimacIDPattern.MatchString(cimacID):
			return nil, common.NewValidationError("malformatted cimac_id=%s on manifest_id=%s for trial %s", cimacID, info.manifestID, info.trialID)
		}
		if _, dup := existing[cimacID]; dup {
			return nil, fmt.Errorf("%w: sample with cimac_id=%s already exists for trial %s", common.ErrAlreadyExists, cimacID, info.trialID)
		}

		if v, ok := s["participant_id"]; ok {
			s["trial_participant_id"] = v
		} else if v, ok := s["trial_participant_id"]; ok {
			s["participant_id"] = v
		} else {
			return nil, common.NewValidationError("sample %s has no local participant_id", cimacID)
		}

		out = append(out, &convertedSample{cimacID: cimacID, fields: s})
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, fmt.Errorf("unsupported value %v", v)
}
