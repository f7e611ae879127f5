package manifests

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	manifestsrepo "github.com/dmitrijs2005/trialregistry/internal/server/repositories/manifests"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
	trialsrepo "github.com/dmitrijs2005/trialregistry/internal/server/repositories/trials"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/uploadjobs"
	"github.com/stretchr/testify/require"
)

type fakeTrialsRepo struct {
	trialsrepo.Repository
	byID  map[string]*models.TrialMetadata
	order []string
}

func (f *fakeTrialsRepo) add(id string, doc map[string]any) {
	f.byID[id] = &models.TrialMetadata{ID: int64(len(f.order) + 1), TrialID: id, Metadata: doc}
	f.order = append(f.order, id)
}

func (f *fakeTrialsRepo) GetByTrialID(_ context.Context, id string) (*models.TrialMetadata, error) {
	t, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTrialsRepo) SelectForUpdate(ctx context.Context, id string) (*models.TrialMetadata, error) {
	return f.GetByTrialID(ctx, id)
}

func (f *fakeTrialsRepo) ListTrialIDs(context.Context) ([]string, error) {
	return append([]string(nil), f.order...), nil
}

func (f *fakeTrialsRepo) UpdateMetadata(_ context.Context, t *models.TrialMetadata) error {
	cp := *t
	f.byID[t.TrialID] = &cp
	return nil
}

// fakeStore saves documents straight into the trials repo.
type fakeStore struct {
	repo  *fakeTrialsRepo
	saves int
	err   error
}

func (s *fakeStore) Save(ctx context.Context, _ dbx.DBTX, t *models.TrialMetadata) error {
	if s.err != nil {
		return s.err
	}
	s.saves++
	return s.repo.UpdateMetadata(ctx, t)
}

type fakeJobsRepo struct {
	uploadjobs.Repository
	jobs    []*models.UploadJob
	updates int
}

func (f *fakeJobsRepo) Create(_ context.Context, j *models.UploadJob) (*models.UploadJob, error) {
	j.ID = int64(len(f.jobs) + 1)
	f.jobs = append(f.jobs, j)
	return j, nil
}

// ListForManifest matches on the link column, as the Postgres query does.
func (f *fakeJobsRepo) ListForManifest(_ context.Context, trialID, manifestID string) ([]*models.UploadJob, error) {
	var out []*models.UploadJob
	for _, j := range f.jobs {
		if j.TrialID == trialID && j.ShipmentManifestID == manifestID && j.Status == models.StatusMergeCompleted {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeJobsRepo) Update(_ context.Context, j *models.UploadJob) error {
	f.updates++
	for i, existing := range f.jobs {
		if existing.ID == j.ID {
			cp := *j
			f.jobs[i] = &cp
		}
	}
	return nil
}

type fakeManifestsRepo struct {
	manifestsrepo.Repository
	shipments    map[string]*models.Record
	samples      map[string][]*models.Record
	uploads      map[string]*models.Record
	cimacIDs     []string
	events       map[string]bool
	participants map[string]bool
	upserted     []string
	fail         map[string]error
}

func newFakeManifestsRepo() *fakeManifestsRepo {
	return &fakeManifestsRepo{
		shipments:    map[string]*models.Record{},
		samples:      map[string][]*models.Record{},
		uploads:      map[string]*models.Record{},
		events:       map[string]bool{},
		participants: map[string]bool{},
		fail:         map[string]error{},
	}
}

func (f *fakeManifestsRepo) ShipmentByManifestID(_ context.Context, id string) (*models.Record, error) {
	r, ok := f.shipments[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r, nil
}

func (f *fakeManifestsRepo) SamplesByManifestID(_ context.Context, id string) ([]*models.Record, error) {
	return f.samples[id], nil
}

func (f *fakeManifestsRepo) UploadByManifestID(_ context.Context, id string) (*models.Record, error) {
	r, ok := f.uploads[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return r, nil
}

func (f *fakeManifestsRepo) CIMACIDs(context.Context, string) ([]string, error) {
	return f.cimacIDs, nil
}

func (f *fakeManifestsRepo) CollectionEventExists(_ context.Context, _, event string) (bool, error) {
	return f.events[event], nil
}

func (f *fakeManifestsRepo) ParticipantExists(_ context.Context, _, pid string) (bool, error) {
	return f.participants[pid], nil
}

func (f *fakeManifestsRepo) Upsert(_ context.Context, r *models.Record) error {
	if err := f.fail[r.Key()]; err != nil {
		return err
	}
	f.upserted = append(f.upserted, r.Key())
	switch r.Kind {
	case models.KindShipment:
		f.shipments[r.String("manifest_id")] = r
	case models.KindSample:
		id := r.String("manifest_id")
		for i, s := range f.samples[id] {
			if s.String("cimac_id") == r.String("cimac_id") {
				f.samples[id][i] = r
				return nil
			}
		}
		f.samples[id] = append(f.samples[id], r)
	case models.KindUpload:
		f.uploads[r.String("shipment_manifest_id")] = r
	}
	return nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	trials    *fakeTrialsRepo
	jobs      *fakeJobsRepo
	manifests *fakeManifestsRepo
}

func (m *fakeRepoManager) Trials(dbx.DBTX) trialsrepo.Repository       { return m.trials }
func (m *fakeRepoManager) UploadJobs(dbx.DBTX) uploadjobs.Repository   { return m.jobs }
func (m *fakeRepoManager) Manifests(dbx.DBTX) manifestsrepo.Repository { return m.manifests }

type fakeNotifier struct {
	ids []int64
	err error
}

func (n *fakeNotifier) PatientSampleUpdate(_ context.Context, id int64) error {
	n.ids = append(n.ids, id)
	return n.err
}

type fixture struct {
	engine    *Engine
	mock      sqlmock.Sqlmock
	trials    *fakeTrialsRepo
	store     *fakeStore
	jobs      *fakeJobsRepo
	manifests *fakeManifestsRepo
	notifier  *fakeNotifier
}

func newFixture(t *testing.T, src Source) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	tr := &fakeTrialsRepo{byID: map[string]*models.TrialMetadata{}}
	tr.add("T1", map[string]any{
		"protocol_identifier":            "T1",
		"allowed_cohort_names":           []any{"Arm_A"},
		"allowed_collection_event_names": []any{"Baseline"},
		"participants":                   []any{},
	})
	tr.add("T2", map[string]any{"protocol_identifier": "T2", "participants": []any{}})

	f := &fixture{
		mock:      mock,
		trials:    tr,
		store:     &fakeStore{repo: tr},
		jobs:      &fakeJobsRepo{},
		manifests: newFakeManifestsRepo(),
		notifier:  &fakeNotifier{},
	}
	rm := &fakeRepoManager{trials: tr, jobs: f.jobs, manifests: f.manifests}
	f.engine = NewEngine(db, rm, f.store, f.notifier, src, nil, logging.Nop())
	return f
}

func sample(cimacID, participantID string) map[string]any {
	return map[string]any{
		"protocol_identifier":                "T1",
		"cimac_id":                           cimacID,
		"participant_id":                     participantID,
		"cohort_name":                        "Arm_A",
		"standardized_collection_event_name": "Baseline",
		"assay_type":                         "WES",
		"sample_manifest_type":               "biofluid_cellular",
		"processed_sample_type":              "PBMC",
		"box_number":                         "1",
	}
}

func manifest(id string, samples ...map[string]any) Manifest {
	list := make([]any, 0, len(samples))
	for _, s := range samples {
		list = append(list, s)
	}
	return Manifest{
		"manifest_id":     id,
		"status":          "qc_complete",
		"courier":         "FedEx",
		"tracking_number": "TRK1",
		"samples":         list,
	}
}

func defaultManifest() Manifest {
	return manifest("M1", sample("CTTTPP101.00", "P1"), sample("CTTTPP102.00", "P1"))
}

// expectBatch registers the savepoint traffic of InsertBatch. Records whose
// index is in failing roll back to their savepoint.
func expectBatch(mock sqlmock.Sqlmock, n int, failing map[int]bool, commit bool) {
	mock.ExpectBegin()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("record_%d", i)
		mock.ExpectExec("SAVEPOINT " + name).WillReturnResult(sqlmock.NewResult(0, 0))
		if failing[i] {
			mock.ExpectExec("ROLLBACK TO SAVEPOINT " + name).WillReturnResult(sqlmock.NewResult(0, 0))
		} else {
			mock.ExpectExec("RELEASE SAVEPOINT " + name).WillReturnResult(sqlmock.NewResult(0, 0))
		}
	}
	if commit {
		mock.ExpectCommit()
	} else {
		mock.ExpectRollback()
	}
}
