package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/common"
)

type UploadJobStatus string

const (
	StatusStarted         UploadJobStatus = "started"
	StatusUploadCompleted UploadJobStatus = "upload-completed"
	StatusUploadFailed    UploadJobStatus = "upload-failed"
	StatusMergeCompleted  UploadJobStatus = "merge-completed"
	StatusMergeFailed     UploadJobStatus = "merge-failed"
)

// AllStatuses lists every upload job status in lifecycle order.
var AllStatuses = []UploadJobStatus{
	StatusStarted, StatusUploadCompleted, StatusUploadFailed, StatusMergeCompleted, StatusMergeFailed,
}

func (s UploadJobStatus) isUpload() bool {
	return s == StatusUploadCompleted || s == StatusUploadFailed
}

func (s UploadJobStatus) isMerge() bool {
	return s == StatusMergeCompleted || s == StatusMergeFailed
}

// IsTerminal reports whether no further transitions are allowed.
func (s UploadJobStatus) IsTerminal() bool { return s.isMerge() }

func (s UploadJobStatus) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsValidTransition reports whether an upload job may move from current to
// target. Manifest uploads skip the upload phase and go straight to a merge
// status.
func IsValidTransition(current, target UploadJobStatus, isManifest bool) bool {
	switch {
	case current == target:
		return true
	case target == StatusStarted:
		return false
	case current.isUpload():
		return target.isMerge()
	case current.isMerge():
		return false
	case current == StatusStarted && target.isMerge():
		return isManifest
	default:
		return true
	}
}

// UploadJob records one ingestion event and the metadata patch it merged.
type UploadJob struct {
	ID                 int64
	TrialID            string
	UploadType         string
	UploaderEmail      string
	Status             UploadJobStatus
	StatusDetails      string
	MultifileUpload    bool
	AssayCreator       string
	GCSFileMap         map[string]string
	MetadataPatch      map[string]any
	GCSXferJobs        []string
	Token              string
	ShipmentManifestID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsManifest reports whether the job carries a shipping or irregular
// manifest rather than assay files.
func (j *UploadJob) IsManifest() bool { return IsManifestUpload(j.UploadType) }

// SetStatus moves the job to target, rejecting a disallowed transition
// without touching the current status.
func (j *UploadJob) SetStatus(target UploadJobStatus) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown status %q", common.ErrInvalidTransition, target)
	}
	if !IsValidTransition(j.Status, target, j.IsManifest()) {
		return fmt.Errorf("%w: upload job with status %s can't transition to status %s",
			common.ErrInvalidTransition, j.Status, target)
	}
	j.Status = target
	return nil
}

// ManifestID returns the manifest the job was created for. Jobs without a
// recorded link fall back to the first shipment of their metadata patch.
func (j *UploadJob) ManifestID() string {
	if j.ShipmentManifestID != "" {
		return j.ShipmentManifestID
	}
	shipments, ok := j.MetadataPatch["shipments"].([]any)
	if !ok || len(shipments) == 0 {
		return ""
	}
	first, ok := shipments[0].(map[string]any)
	if !ok {
		return ""
	}
	id, _ := first["manifest_id"].(string)
	return id
}
