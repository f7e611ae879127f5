package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/gcloud"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/queue"
	"github.com/dmitrijs2005/trialregistry/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------- test fakes --------

type memStore struct {
	name     string
	bindings []*gcloud.Binding
	setErr   error
}

func (m *memStore) Resource() string { return m.name }
func (m *memStore) Kind() string     { return "bucket" }
func (m *memStore) GetPolicy(context.Context) (*gcloud.Policy, error) {
	return &gcloud.Policy{Bindings: append([]*gcloud.Binding(nil), m.bindings...)}, nil
}
func (m *memStore) SetPolicy(_ context.Context, p *gcloud.Policy) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.bindings = p.Bindings
	return nil
}

func (m *memStore) has(role, member string) bool {
	for _, b := range m.bindings {
		if b.Role == role && len(b.Members) == 1 && b.Members[0] == member {
			return true
		}
	}
	return false
}

type fakeDataset struct {
	readers map[string]bool
	err     error
}

func (d *fakeDataset) GrantReaders(_ context.Context, emails []string) error {
	if d.err != nil {
		return d.err
	}
	for _, e := range emails {
		d.readers[e] = true
	}
	return nil
}

func (d *fakeDataset) RevokeReader(_ context.Context, email string) error {
	if d.err != nil {
		return d.err
	}
	delete(d.readers, email)
	return nil
}

type fakeCloud struct {
	buckets  map[string]*memStore
	project  *memStore
	dataset  *fakeDataset
	existing map[string]bool
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		buckets:  map[string]*memStore{},
		project:  &memStore{name: "proj"},
		dataset:  &fakeDataset{readers: map[string]bool{}},
		existing: map[string]bool{},
	}
}

func (c *fakeCloud) bucket(name string) *memStore {
	if _, ok := c.buckets[name]; !ok {
		c.buckets[name] = &memStore{name: name}
	}
	return c.buckets[name]
}

func (c *fakeCloud) BucketPolicy(_ context.Context, bucket string) (gcloud.PolicyStore, error) {
	return c.bucket(bucket), nil
}
func (c *fakeCloud) ProjectPolicy(context.Context) (gcloud.PolicyStore, error) { return c.project, nil }
func (c *fakeCloud) BucketExists(_ context.Context, bucket string) (bool, error) {
	return c.existing[bucket], nil
}
func (c *fakeCloud) Dataset(context.Context, string) (gcloud.DatasetACL, error) {
	return c.dataset, nil
}

type fakeQueue struct {
	jobs []*queue.DownloadJob
	err  error
}

func (q *fakeQueue) DownloadPermissions(_ context.Context, job *queue.DownloadJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fakeTrials struct {
	ids []string
	err error
}

func (f fakeTrials) ListTrialIDs(context.Context) ([]string, error) { return f.ids, f.err }

var settings = Settings{
	DataBucket:         "cidc-data",
	UploadBucket:       "cidc-uploads",
	IntakeBucketPrefix: "cidc-intake",
	ListerRole:         "roles/lister",
	UploadRole:         "roles/storage.objectCreator",
	IntakeRole:         "roles/storage.objectAdmin",
	BigQueryRole:       "roles/bigquery.jobUser",
	BigQueryDataset:    "public",
	TTLDays:            60,
}

func newTestService(c *fakeCloud, q *fakeQueue, tr fakeTrials) *Service {
	bm := gcloud.NewBindingManager(logging.Nop(), timex.Fixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), nil)
	return NewService(c, bm, q, tr, settings, logging.Nop())
}

// -------- tests --------

func TestListerAndUploadAccess_Idempotent(t *testing.T) {
	c := newFakeCloud()
	s := newTestService(c, &fakeQueue{}, fakeTrials{})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.GrantListerAccess(ctx, "a@example.org"))
		require.NoError(t, s.GrantUploadAccess(ctx, "a@example.org"))
	}
	data := c.bucket("cidc-data")
	require.Len(t, data.bindings, 1)
	assert.Nil(t, data.bindings[0].Condition)
	assert.True(t, data.has("roles/lister", "user:a@example.org"))
	assert.Len(t, c.bucket("cidc-uploads").bindings, 1)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.RevokeListerAccess(ctx, "a@example.org"))
		require.NoError(t, s.RevokeUploadAccess(ctx, "a@example.org"))
	}
	assert.Empty(t, data.bindings)
	assert.Empty(t, c.bucket("cidc-uploads").bindings)
}

func TestGrantListerAccess_WriteFailure(t *testing.T) {
	c := newFakeCloud()
	c.bucket("cidc-data").setErr = errors.New("412 precondition")
	s := newTestService(c, &fakeQueue{}, fakeTrials{})

	assert.ErrorContains(t, s.GrantListerAccess(context.Background(), "a@example.org"), "412 precondition")
}

func TestDownloadAccess_QueuesJobs(t *testing.T) {
	q := &fakeQueue{}
	s := newTestService(newFakeCloud(), q, fakeTrials{})
	ctx := context.Background()

	require.NoError(t, s.GrantDownloadAccess(ctx, []string{"a@example.org"}, models.Specific("T1"), []string{"wes_bam"}))
	require.NoError(t, s.RevokeDownloadAccess(ctx, nil, models.Every, nil))

	require.Len(t, q.jobs, 2)
	assert.Equal(t, &queue.DownloadJob{UserEmails: []string{"a@example.org"}, Trial: models.Specific("T1"), UploadTypes: []string{"wes_bam"}}, q.jobs[0])
	assert.Equal(t, &queue.DownloadJob{UserEmails: []string{}, Trial: models.Every, Revoke: true}, q.jobs[1])

	q.err = errors.New("publish timeout")
	err := s.GrantDownloadAccess(ctx, nil, models.Specific("T1"), nil)
	assert.ErrorContains(t, err, "queue download job: publish timeout")
}

func TestBigQueryAccess(t *testing.T) {
	c := newFakeCloud()
	s := newTestService(c, &fakeQueue{}, fakeTrials{})
	ctx := context.Background()

	require.NoError(t, s.GrantBigQueryAccess(ctx, []string{"a@example.org", "b@example.org"}))
	assert.Len(t, c.project.bindings, 2)
	require.NotNil(t, c.project.bindings[0].Condition)
	assert.Contains(t, c.project.bindings[0].Condition.Expression, "2024-03-01")
	assert.Equal(t, map[string]bool{"a@example.org": true, "b@example.org": true}, c.dataset.readers)

	require.NoError(t, s.RevokeBigQueryAccess(ctx, "a@example.org"))
	assert.Len(t, c.project.bindings, 1)
	assert.Equal(t, map[string]bool{"b@example.org": true}, c.dataset.readers)

	require.NoError(t, s.GrantBigQueryAccess(ctx, nil))
}

func TestBigQueryAccess_AttemptsBothSteps(t *testing.T) {
	c := newFakeCloud()
	c.project.setErr = errors.New("project denied")
	s := newTestService(c, &fakeQueue{}, fakeTrials{})

	err := s.GrantBigQueryAccess(context.Background(), []string{"a@example.org"})
	assert.ErrorContains(t, err, "project denied")
	assert.True(t, c.dataset.readers["a@example.org"], "dataset step still runs")

	c.project.setErr = nil
	c.dataset.err = errors.New("dataset denied")
	err = s.RevokeBigQueryAccess(context.Background(), "a@example.org")
	assert.ErrorContains(t, err, "dataset denied")
	assert.Empty(t, c.project.bindings)
}

func TestIntakeAccess(t *testing.T) {
	c := newFakeCloud()
	s := newTestService(c, &fakeQueue{}, fakeTrials{})
	ctx := context.Background()

	name := s.IntakeBucketName("a@example.org")
	assert.Regexp(t, `^cidc-intake-[0-9a-f]{10}$`, name)
	assert.Equal(t, name, s.IntakeBucketName("a@example.org"))
	assert.NotEqual(t, name, s.IntakeBucketName("b@example.org"))

	// no bucket provisioned: nothing happens
	require.NoError(t, s.RefreshIntakeAccess(ctx, "a@example.org"))
	assert.NotContains(t, c.buckets, name)

	c.existing[name] = true
	require.NoError(t, s.RefreshIntakeAccess(ctx, "a@example.org"))
	require.Len(t, c.bucket(name).bindings, 1)
	assert.NotNil(t, c.bucket(name).bindings[0].Condition)

	require.NoError(t, s.RevokeIntakeAccess(ctx, "a@example.org"))
	assert.Empty(t, c.bucket(name).bindings)
}

func TestBuildTrialUploadPrefixes(t *testing.T) {
	ctx := context.Background()
	s := newTestService(newFakeCloud(), &fakeQueue{}, fakeTrials{ids: []string{"T1", "T2"}})

	got, err := s.BuildTrialUploadPrefixes(ctx, models.Every, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.BuildTrialUploadPrefixes(ctx, models.Specific("T1"), []string{"wes_bam", "wes_fastq", "olink"})
	require.NoError(t, err)
	assert.Equal(t, []string{"T1/olink/", "T1/wes/"}, got)

	got, err = s.BuildTrialUploadPrefixes(ctx, models.Every, []string{"clinical_data"})
	require.NoError(t, err)
	assert.Equal(t, []string{"T1/clinical/", "T2/clinical/"}, got)

	got, err = s.BuildTrialUploadPrefixes(ctx, models.Specific("T1"), nil)
	require.NoError(t, err)
	assert.NotContains(t, got, "T1/clinical/")
	assert.Contains(t, got, "T1/wes/")
	assert.Len(t, got, len(models.CrossAssayPrefixes()))

	// shipping manifests have no files of their own
	got, err = s.BuildTrialUploadPrefixes(ctx, models.Specific("T1"), []string{"pbmc"})
	require.NoError(t, err)
	assert.Empty(t, got)

	s = newTestService(newFakeCloud(), &fakeQueue{}, fakeTrials{err: errors.New("db down")})
	_, err = s.BuildTrialUploadPrefixes(ctx, models.Every, []string{"olink"})
	assert.ErrorContains(t, err, "list trials: db down")
}
