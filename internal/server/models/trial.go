package models

import "time"

// TrialMetadata is the per-trial JSON document holding participants,
// samples, shipments and assay data.
type TrialMetadata struct {
	ID        int64
	TrialID   string
	Metadata  map[string]any
	ETag      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StringList reads a []string-valued field of the blob, tolerating the
// []any shape produced by JSON decoding.
func (t *TrialMetadata) StringList(key string) []string {
	return stringList(t.Metadata[key])
}

func stringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// TrialSummary is the per-trial aggregation served to the portal.
type TrialSummary struct {
	TrialID              string           `json:"trial_id"`
	FileSizeBytes        int64            `json:"file_size_bytes"`
	ClinicalParticipants int64            `json:"clinical_participants"`
	TotalParticipants    int64            `json:"total_participants"`
	TotalSamples         int64            `json:"total_samples"`
	ExpectedAssays       []string         `json:"expected_assays"`
	SamplesByAssay       map[string]int64 `json:"samples_by_assay"`
}
