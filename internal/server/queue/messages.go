package queue

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

// DownloadJob asks the worker to grant or revoke object reads for every
// object under the resolved {trial}/{prefix} paths. An empty email list
// means the worker looks the recipients up itself. A nil UploadTypes means
// every upload type except clinical data.
type DownloadJob struct {
	UserEmails  []string     `json:"user_email_list"`
	Trial       models.Scope `json:"trial_id"`
	UploadTypes []string     `json:"upload_type"`
	Revoke      bool         `json:"revoke"`
}

func DecodeDownloadJob(data []byte) (*DownloadJob, error) {
	j := &DownloadJob{}
	if err := json.Unmarshal(data, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Email is the payload of an email-send request.
type Email struct {
	To          []string `json:"to_emails"`
	Subject     string   `json:"subject"`
	HTMLContent string   `json:"html_content"`
}

// Topics names the Pub/Sub topic of each event kind.
type Topics struct {
	DownloadPermissions string
	UploadSuccess       string
	Emails              string
	PatientSample       string
	ArtifactUpload      string
}

// Notifier encodes registry events and publishes them.
type Notifier struct {
	pub    Publisher
	topics Topics
}

func NewNotifier(pub Publisher, topics Topics) *Notifier {
	return &Notifier{pub: pub, topics: topics}
}

func (n *Notifier) publishJSON(ctx context.Context, topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.pub.Publish(ctx, topic, data)
}

// DownloadPermissions publishes a DownloadJob.
func (n *Notifier) DownloadPermissions(ctx context.Context, job *DownloadJob) error {
	return n.publishJSON(ctx, n.topics.DownloadPermissions, job)
}

// UploadSuccess announces a merged upload job by id.
func (n *Notifier) UploadSuccess(ctx context.Context, jobID int64) error {
	return n.pub.Publish(ctx, n.topics.UploadSuccess, []byte(strconv.FormatInt(jobID, 10)))
}

// PatientSampleUpdate announces a manifest upload that changed participants
// or samples.
func (n *Notifier) PatientSampleUpdate(ctx context.Context, manifestUploadID int64) error {
	return n.pub.Publish(ctx, n.topics.PatientSample, []byte(strconv.FormatInt(manifestUploadID, 10)))
}

// ArtifactUpload announces a new downloadable file by id.
func (n *Notifier) ArtifactUpload(ctx context.Context, fileID int64) error {
	return n.pub.Publish(ctx, n.topics.ArtifactUpload, []byte(strconv.FormatInt(fileID, 10)))
}

func (n *Notifier) SendEmail(ctx context.Context, e *Email) error {
	return n.publishJSON(ctx, n.topics.Emails, e)
}
