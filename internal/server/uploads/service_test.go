package uploads

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/uploadjobs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobsRepo struct {
	uploadjobs.Repository
	jobs    map[int64]*models.UploadJob
	updates int
}

func (f *fakeJobsRepo) Create(_ context.Context, j *models.UploadJob) (*models.UploadJob, error) {
	j.ID = int64(len(f.jobs) + 1)
	cp := *j
	f.jobs[j.ID] = &cp
	return j, nil
}

func (f *fakeJobsRepo) GetByID(_ context.Context, id int64) (*models.UploadJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobsRepo) FindByIDAndEmail(ctx context.Context, id int64, email string) (*models.UploadJob, error) {
	j, err := f.GetByID(ctx, id)
	if err != nil || j.UploaderEmail != email {
		return nil, common.ErrorNotFound
	}
	return j, nil
}

func (f *fakeJobsRepo) Update(_ context.Context, j *models.UploadJob) error {
	f.updates++
	cp := *j
	f.jobs[j.ID] = &cp
	return nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	jobs *fakeJobsRepo
}

func (m *fakeRepoManager) UploadJobs(dbx.DBTX) uploadjobs.Repository { return m.jobs }

type fakeNotifier struct {
	ids []int64
	err error
}

func (f *fakeNotifier) UploadSuccess(_ context.Context, id int64) error {
	f.ids = append(f.ids, id)
	return f.err
}

type fakeGranter struct {
	jobs []*models.UploadJob
}

func (f *fakeGranter) GrantDownloadPermissionsForUploadJob(_ context.Context, j *models.UploadJob) error {
	f.jobs = append(f.jobs, j)
	return nil
}

type fixture struct {
	svc      *Service
	jobs     *fakeJobsRepo
	notifier *fakeNotifier
	granter  *fakeGranter
	mock     sqlmock.Sqlmock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		jobs:     &fakeJobsRepo{jobs: map[int64]*models.UploadJob{}},
		notifier: &fakeNotifier{},
		granter:  &fakeGranter{},
		mock:     mock,
	}
	f.svc = NewService(db, &fakeRepoManager{jobs: f.jobs}, f.notifier, f.granter, logging.Nop())
	return f
}

func (f *fixture) createAssay(t *testing.T) *models.UploadJob {
	t.Helper()
	job, err := f.svc.Create(context.Background(), CreateRequest{
		UploadType:    "wes_bam",
		UploaderEmail: "up@x.org",
		MetadataPatch: map[string]any{"protocol_identifier": "T1"},
		GCSFileMap:    map[string]string{"T1/wes/a.bam": "uuid-1"},
	})
	require.NoError(t, err)
	return job
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	job := f.createAssay(t)

	assert.Equal(t, "T1", job.TrialID)
	assert.Equal(t, models.StatusStarted, job.Status)
	_, err := uuid.Parse(job.Token)
	assert.NoError(t, err)
}

func TestCreate_Manifest(t *testing.T) {
	f := newFixture(t)
	job, err := f.svc.Create(context.Background(), CreateRequest{
		UploadType: "pbmc",
		MetadataPatch: map[string]any{
			"protocol_identifier": "T1",
			"shipments":           []any{map[string]any{"manifest_id": "M1"}},
		},
		Status: models.StatusMergeCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, "M1", job.ShipmentManifestID)
	assert.Equal(t, models.StatusMergeCompleted, job.Status)
}

func TestCreate_InitialStatusFollowsTransitions(t *testing.T) {
	tests := []struct {
		name   string
		req    CreateRequest
		wantOK bool
	}{
		{"assay straight to merge", CreateRequest{
			UploadType: "wes_bam", MetadataPatch: map[string]any{"protocol_identifier": "T1"},
			GCSFileMap: map[string]string{"T1/wes/a.bam": "uuid-1"}, Status: models.StatusMergeCompleted,
		}, false},
		{"assay upload completed", CreateRequest{
			UploadType: "wes_bam", MetadataPatch: map[string]any{"protocol_identifier": "T1"},
			GCSFileMap: map[string]string{"T1/wes/a.bam": "uuid-1"}, Status: models.StatusUploadCompleted,
		}, true},
		{"manifest straight to merge", CreateRequest{
			UploadType: "plasma", MetadataPatch: map[string]any{"protocol_identifier": "T1"},
			Status: models.StatusMergeFailed,
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			job, err := f.svc.Create(context.Background(), tt.req)
			if !tt.wantOK {
				assert.ErrorIs(t, err, common.ErrInvalidTransition)
				assert.Nil(t, job)
				assert.Empty(t, f.jobs.jobs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.req.Status, job.Status)
		})
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"no protocol identifier", CreateRequest{UploadType: "pbmc", MetadataPatch: map[string]any{}}},
		{"no upload type", CreateRequest{MetadataPatch: map[string]any{"protocol_identifier": "T1"}}},
		{"assay without files", CreateRequest{UploadType: "olink", MetadataPatch: map[string]any{"protocol_identifier": "T1"}}},
		{"bad status", CreateRequest{UploadType: "pbmc", MetadataPatch: map[string]any{"protocol_identifier": "T1"}, Status: "done"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}
	assert.Empty(t, f.jobs.jobs)
}

func TestSetStatus_RejectsSkippingUploadPhase(t *testing.T) {
	f := newFixture(t)
	job := f.createAssay(t)

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.SetStatus(context.Background(), job.ID, models.StatusMergeCompleted)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	assert.Zero(t, f.jobs.updates)
	assert.Equal(t, models.StatusStarted, f.jobs.jobs[job.ID].Status)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	job := f.createAssay(t)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	got, err := f.svc.SetStatus(context.Background(), job.ID, models.StatusUploadCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploadCompleted, got.Status)
	assert.Equal(t, models.StatusUploadCompleted, f.jobs.jobs[job.ID].Status)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestIngestionSuccess(t *testing.T) {
	f := newFixture(t)
	job := f.createAssay(t)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	_, err := f.svc.SetStatus(context.Background(), job.ID, models.StatusUploadCompleted)
	require.NoError(t, err)

	got, err := f.svc.IngestionSuccess(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMergeCompleted, got.Status)
	assert.Equal(t, []int64{job.ID}, f.notifier.ids)
	require.Len(t, f.granter.jobs, 1)
	assert.Equal(t, job.ID, f.granter.jobs[0].ID)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestIngestionSuccess_PublishFailure(t *testing.T) {
	f := newFixture(t)
	job := f.createAssay(t)
	f.jobs.jobs[job.ID].Status = models.StatusUploadCompleted
	f.notifier.err = errors.New("pubsub down")

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	got, err := f.svc.IngestionSuccess(context.Background(), job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pubsub down")
	require.NotNil(t, got)
	assert.Equal(t, models.StatusMergeCompleted, f.jobs.jobs[job.ID].Status)
	assert.Empty(t, f.granter.jobs)
}

func TestMergeExtraMetadata(t *testing.T) {
	f := newFixture(t)
	job := f.createAssay(t)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	got, err := f.svc.MergeExtraMetadata(context.Background(), job.ID, map[string]any{"assays": map[string]any{"wes": []any{}}})
	require.NoError(t, err)
	assert.Equal(t, "T1", got.MetadataPatch["protocol_identifier"])
	assert.Contains(t, got.MetadataPatch, "assays")

	f.jobs.jobs[job.ID].Status = models.StatusMergeFailed
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err = f.svc.MergeExtraMetadata(context.Background(), job.ID, map[string]any{"x": 1})
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestFindByIDAndEmail(t *testing.T) {
	f := newFixture(t)
	job := f.createAssay(t)

	got, err := f.svc.FindByIDAndEmail(context.Background(), job.ID, "up@x.org")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = f.svc.FindByIDAndEmail(context.Background(), job.ID, "other@x.org")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
