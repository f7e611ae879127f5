package models

import "time"

// DownloadableFile describes one object in the data bucket that users with
// a matching permission may download.
type DownloadableFile struct {
	ID int64
	// TrialID and UploadType place the file in the permission space.
	TrialID    string
	UploadType string
	// ObjectURL is the object key inside the data bucket.
	ObjectURL string
	// FileSizeBytes is reported in trial summaries.
	FileSizeBytes int64
	// UploadJobID links the file to the ingestion that produced it.
	UploadJobID *int64
	// FacetGroup is the display facet the file is listed under.
	FacetGroup string
	// Analysis files are produced by a pipeline run rather than an upload.
	Analysis  bool
	CreatedAt time.Time
}

// DownloadLink is a time-limited URL for one file.
type DownloadLink struct {
	FileID  int64
	URL     string
	Expires time.Time
}
