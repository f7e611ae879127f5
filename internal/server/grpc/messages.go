package grpc

import (
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/server/csms"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

type Empty struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type GrantPermissionRequest struct {
	GrantedToUser int64 `json:"granted_to_user"`
	// TrialID and UploadType take "*" for every trial or type.
	TrialID    string `json:"trial_id"`
	UploadType string `json:"upload_type"`
}

type RevokePermissionRequest struct {
	PermissionID int64 `json:"permission_id"`
}

// ListPermissionsRequest lists the caller's own permissions when UserID is
// zero.
type ListPermissionsRequest struct {
	UserID int64 `json:"user_id"`
}

type Permission struct {
	ID            int64        `json:"id"`
	GrantedToUser int64        `json:"granted_to_user"`
	GrantedByUser int64        `json:"granted_by_user"`
	TrialID       models.Scope `json:"trial_id"`
	UploadType    models.Scope `json:"upload_type"`
	CreatedAt     time.Time    `json:"created_at"`
}

type ListPermissionsResponse struct {
	Permissions []*Permission `json:"permissions"`
}

type CreateUploadJobRequest struct {
	UploadType      string            `json:"upload_type"`
	MetadataPatch   map[string]any    `json:"metadata_patch"`
	GCSFileMap      map[string]string `json:"gcs_file_map"`
	AssayCreator    string            `json:"assay_creator"`
	MultifileUpload bool              `json:"multifile"`
}

type SetUploadJobStatusRequest struct {
	JobID  int64  `json:"job_id"`
	Status string `json:"status"`
}

type UploadJob struct {
	ID            int64  `json:"id"`
	TrialID       string `json:"trial_id"`
	UploadType    string `json:"upload_type"`
	UploaderEmail string `json:"uploader_email"`
	Status        string `json:"status"`
	Token         string `json:"token"`
}

type ManifestRequest struct {
	Manifest map[string]any `json:"manifest"`
}

type SyncManifestResponse struct {
	ManifestID string           `json:"manifest_id"`
	Action     csms.Action      `json:"action"`
	Changes    []*models.Change `json:"changes,omitempty"`
}

type InsertManifestResponse struct {
	UploadJobID int64 `json:"upload_job_id"`
}

type TrialSummariesResponse struct {
	Summaries []*models.TrialSummary `json:"summaries"`
}

type ListFilesRequest struct {
	TrialID    string `json:"trial_id"`
	UploadType string `json:"upload_type"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

type File struct {
	ID            int64  `json:"id"`
	TrialID       string `json:"trial_id"`
	UploadType    string `json:"upload_type"`
	ObjectURL     string `json:"object_url"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	FacetGroup    string `json:"facet_group"`
}

type ListFilesResponse struct {
	Files []*File `json:"files"`
}

type DownloadURLRequest struct {
	FileID int64 `json:"file_id"`
}

type DownloadURLResponse struct {
	URL     string    `json:"url"`
	Expires time.Time `json:"expires"`
}

func toPermission(p *models.Permission) *Permission {
	return &Permission{
		ID:            p.ID,
		GrantedToUser: p.GrantedToUser,
		GrantedByUser: p.GrantedByUser,
		TrialID:       p.Trial,
		UploadType:    p.UploadType,
		CreatedAt:     p.CreatedAt,
	}
}

func toUploadJob(j *models.UploadJob) *UploadJob {
	return &UploadJob{
		ID:            j.ID,
		TrialID:       j.TrialID,
		UploadType:    j.UploadType,
		UploaderEmail: j.UploaderEmail,
		Status:        string(j.Status),
		Token:         j.Token,
	}
}

func toFile(f *models.DownloadableFile) *File {
	return &File{
		ID:            f.ID,
		TrialID:       f.TrialID,
		UploadType:    f.UploadType,
		ObjectURL:     f.ObjectURL,
		FileSizeBytes: f.FileSizeBytes,
		FacetGroup:    f.FacetGroup,
	}
}
