// Package access turns user-level access requests (lister, upload,
// download, BigQuery and intake) into IAM bindings and queued download
// permission jobs.
package access

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/gcloud"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/queue"
)

// Cloud resolves the Google Cloud resources access is managed on.
// *gcloud.Clients implements it.
type Cloud interface {
	BucketPolicy(ctx context.Context, bucket string) (gcloud.PolicyStore, error)
	ProjectPolicy(ctx context.Context) (gcloud.PolicyStore, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
	Dataset(ctx context.Context, datasetID string) (gcloud.DatasetACL, error)
}

// TrialIDLister returns every registered trial id.
type TrialIDLister interface {
	ListTrialIDs(ctx context.Context) ([]string, error)
}

// DownloadQueue accepts download permission jobs.
type DownloadQueue interface {
	DownloadPermissions(ctx context.Context, job *queue.DownloadJob) error
}

// Settings names the buckets, roles and dataset access is granted on.
type Settings struct {
	DataBucket         string
	UploadBucket       string
	IntakeBucketPrefix string
	ListerRole         string
	UploadRole         string
	IntakeRole         string
	BigQueryRole       string
	BigQueryDataset    string
	// TTLDays is the lifetime of expiring bindings.
	TTLDays int
}

type Service struct {
	cloud    Cloud
	bindings *gcloud.BindingManager
	queue    DownloadQueue
	trials   TrialIDLister
	settings Settings
	logger   logging.Logger
}

func NewService(cloud Cloud, bindings *gcloud.BindingManager, q DownloadQueue, trials TrialIDLister, settings Settings, logger logging.Logger) *Service {
	return &Service{
		cloud:    cloud,
		bindings: bindings,
		queue:    q,
		trials:   trials,
		settings: settings,
		logger:   logger.With("module", "access"),
	}
}

func (s *Service) grantOnBucket(ctx context.Context, bucket, role string, emails []string, ttlDays int) error {
	store, err := s.cloud.BucketPolicy(ctx, bucket)
	if err != nil {
		return err
	}
	members := make([]string, 0, len(emails))
	for _, e := range emails {
		members = append(members, gcloud.Member(e))
	}
	return s.bindings.Grant(ctx, store, role, members, ttlDays)
}

func (s *Service) revokeOnBucket(ctx context.Context, bucket, role, email string) error {
	store, err := s.cloud.BucketPolicy(ctx, bucket)
	if err != nil {
		return err
	}
	return s.bindings.Revoke(ctx, store, role, gcloud.Member(email))
}

// GrantListerAccess lets email list the data bucket. Listing is required
// for any download.
func (s *Service) GrantListerAccess(ctx context.Context, email string) error {
	return s.grantOnBucket(ctx, s.settings.DataBucket, s.settings.ListerRole, []string{email}, gcloud.NoExpiry)
}

func (s *Service) RevokeListerAccess(ctx context.Context, email string) error {
	return s.revokeOnBucket(ctx, s.settings.DataBucket, s.settings.ListerRole, email)
}

func (s *Service) GrantUploadAccess(ctx context.Context, email string) error {
	return s.grantOnBucket(ctx, s.settings.UploadBucket, s.settings.UploadRole, []string{email}, gcloud.NoExpiry)
}

func (s *Service) RevokeUploadAccess(ctx context.Context, email string) error {
	return s.revokeOnBucket(ctx, s.settings.UploadBucket, s.settings.UploadRole, email)
}

// GrantDownloadAccess queues a job granting object reads on trial and
// uploadTypes to emails. An empty emails list lets the worker resolve the
// recipients; an empty uploadTypes means every type except clinical data.
// It returns once the job is accepted by the queue.
func (s *Service) GrantDownloadAccess(ctx context.Context, emails []string, trial models.Scope, uploadTypes []string) error {
	return s.queueDownloadJob(ctx, emails, trial, uploadTypes, false)
}

func (s *Service) RevokeDownloadAccess(ctx context.Context, emails []string, trial models.Scope, uploadTypes []string) error {
	return s.queueDownloadJob(ctx, emails, trial, uploadTypes, true)
}

func (s *Service) queueDownloadJob(ctx context.Context, emails []string, trial models.Scope, uploadTypes []string, revoke bool) error {
	job := &queue.DownloadJob{
		UserEmails:  emails,
		Trial:       trial,
		UploadTypes: uploadTypes,
		Revoke:      revoke,
	}
	if job.UserEmails == nil {
		job.UserEmails = []string{}
	}
	s.logger.Info(ctx, "queueing download permission job",
		"trial_id", trial.String(), "upload_types", uploadTypes, "users", len(emails), "revoke", revoke)
	if err := s.queue.DownloadPermissions(ctx, job); err != nil {
		return fmt.Errorf("queue download job: %w", err)
	}
	return nil
}

// GrantBigQueryAccess gives emails the BigQuery job role on the project
// and read access to the public dataset. Both steps are attempted.
func (s *Service) GrantBigQueryAccess(ctx context.Context, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	var errs []error

	if store, err := s.cloud.ProjectPolicy(ctx); err != nil {
		errs = append(errs, err)
	} else {
		members := make([]string, 0, len(emails))
		for _, e := range emails {
			members = append(members, gcloud.Member(e))
		}
		if err := s.bindings.Grant(ctx, store, s.settings.BigQueryRole, members, s.settings.TTLDays); err != nil {
			errs = append(errs, err)
		}
	}

	if ds, err := s.cloud.Dataset(ctx, s.settings.BigQueryDataset); err != nil {
		errs = append(errs, err)
	} else if err := ds.GrantReaders(ctx, emails); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s *Service) RevokeBigQueryAccess(ctx context.Context, email string) error {
	var errs []error

	if store, err := s.cloud.ProjectPolicy(ctx); err != nil {
		errs = append(errs, err)
	} else if err := s.bindings.Revoke(ctx, store, s.settings.BigQueryRole, gcloud.Member(email)); err != nil {
		errs = append(errs, err)
	}

	if ds, err := s.cloud.Dataset(ctx, s.settings.BigQueryDataset); err != nil {
		errs = append(errs, err)
	} else if err := ds.RevokeReader(ctx, email); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// IntakeBucketName is the per-user intake bucket: the configured prefix
// and the first ten hex digits of the email's SHA-1.
func (s *Service) IntakeBucketName(email string) string {
	sum := sha1.Sum([]byte(email))
	return fmt.Sprintf("%s-%s", s.settings.IntakeBucketPrefix, hex.EncodeToString(sum[:])[:10])
}

// RefreshIntakeAccess re-grants access to the user's intake bucket, which
// resets the expiry. Users without an intake bucket are skipped.
func (s *Service) RefreshIntakeAccess(ctx context.Context, email string) error {
	bucket := s.IntakeBucketName(email)
	ok, err := s.cloud.BucketExists(ctx, bucket)
	if err != nil || !ok {
		return err
	}
	return s.grantOnBucket(ctx, bucket, s.settings.IntakeRole, []string{email}, s.settings.TTLDays)
}

func (s *Service) RevokeIntakeAccess(ctx context.Context, email string) error {
	bucket := s.IntakeBucketName(email)
	ok, err := s.cloud.BucketExists(ctx, bucket)
	if err != nil || !ok {
		return err
	}
	return s.revokeOnBucket(ctx, bucket, s.settings.IntakeRole, email)
}

// BuildTrialUploadPrefixes returns the sorted "{trial}/{prefix}" object
// paths covered by trial and uploadTypes. Both wildcards at once yield
// nothing. Upload types without files of their own are skipped.
func (s *Service) BuildTrialUploadPrefixes(ctx context.Context, trial models.Scope, uploadTypes []string) ([]string, error) {
	if trial.IsEvery() && len(uploadTypes) == 0 {
		return nil, nil
	}

	var trialIDs []string
	if id, ok := trial.Value(); ok {
		trialIDs = []string{id}
	} else {
		ids, err := s.trials.ListTrialIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list trials: %w", err)
		}
		trialIDs = ids
	}

	var prefixes []string
	if len(uploadTypes) == 0 {
		prefixes = models.CrossAssayPrefixes()
	} else {
		for _, t := range uploadTypes {
			if p, ok := models.ObjectPrefix(t); ok {
				prefixes = append(prefixes, p)
			}
		}
	}

	seen := map[string]struct{}{}
	var out []string
	for _, id := range trialIDs {
		for _, p := range prefixes {
			full := id + "/" + p
			if _, dup := seen[full]; dup {
				continue
			}
			seen[full] = struct{}{}
			out = append(out, full)
		}
	}
	sort.Strings(out)
	return out, nil
}
