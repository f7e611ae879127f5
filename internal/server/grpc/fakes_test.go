package grpc

import (
	"context"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/csms"
	"github.com/dmitrijs2005/trialregistry/internal/server/manifests"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/files"
	"github.com/dmitrijs2005/trialregistry/internal/server/uploads"
)

const testSecret = "test-secret"

var (
	admin  = &models.User{ID: 1, Email: "admin@x.org", Role: models.RoleAdmin}
	member = &models.User{ID: 2, Email: "member@x.org", Role: models.RoleCIMACUser}
)

type fakeUsers struct {
	byID     map[int64]*models.User
	accessed []int64
}

func (f *fakeUsers) CurrentUser(_ context.Context, id int64) (*models.User, error) {
	u, ok := f.byID[id]
	if !ok || u.Disabled {
		return nil, common.ErrorUnauthorized
	}
	return u, nil
}

func (f *fakeUsers) UpdateAccessed(_ context.Context, u *models.User) error {
	f.accessed = append(f.accessed, u.ID)
	return nil
}

type fakePerms struct {
	inserted *models.Permission
	deleted  [2]int64
	err      error
	listed   int64
}

func (f *fakePerms) Insert(_ context.Context, p *models.Permission) (*models.Permission, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inserted = p
	cp := *p
	cp.ID = 10
	return &cp, nil
}

func (f *fakePerms) Delete(_ context.Context, id, by int64) error {
	f.deleted = [2]int64{id, by}
	return f.err
}

func (f *fakePerms) FindForUser(_ context.Context, id int64) ([]*models.Permission, error) {
	f.listed = id
	return []*models.Permission{{ID: 3, GrantedToUser: id, Trial: models.Specific("T1"), UploadType: models.Every}}, f.err
}

type fakeUploads struct {
	req    uploads.CreateRequest
	status models.UploadJobStatus
	err    error
}

func (f *fakeUploads) Create(_ context.Context, req uploads.CreateRequest) (*models.UploadJob, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.UploadJob{ID: 5, TrialID: "T1", UploadType: req.UploadType, UploaderEmail: req.UploaderEmail, Status: models.StatusStarted}, nil
}

func (f *fakeUploads) SetStatus(_ context.Context, id int64, st models.UploadJobStatus) (*models.UploadJob, error) {
	f.status = st
	if f.err != nil {
		return nil, f.err
	}
	return &models.UploadJob{ID: id, Status: st}, nil
}

type fakeSyncer struct {
	result csms.Result
	email  string
}

func (f *fakeSyncer) SyncManifest(_ context.Context, m manifests.Manifest, email string) csms.Result {
	f.email = email
	r := f.result
	r.ManifestID, _ = m["manifest_id"].(string)
	return r
}

type fakeInserter struct {
	relational bool
	calls      []string
	err        error
}

func (f *fakeInserter) InsertIntoBlob(_ context.Context, m manifests.Manifest, _ string) (*models.UploadJob, error) {
	f.calls = append(f.calls, "blob")
	if f.err != nil {
		return nil, f.err
	}
	return &models.UploadJob{ID: 77}, nil
}

func (f *fakeInserter) InsertFromJSON(context.Context, manifests.Manifest, string) error {
	f.calls = append(f.calls, "relational")
	return nil
}

func (f *fakeInserter) Relational() bool { return f.relational }

type fakeTrials struct{}

func (fakeTrials) GetSummaries(_ context.Context, u *models.User) ([]*models.TrialSummary, error) {
	return []*models.TrialSummary{{TrialID: "T1", TotalSamples: int64(u.ID)}}, nil
}

type fakeDownloads struct {
	filter files.ListFilter
}

func (f *fakeDownloads) ListForUser(_ context.Context, _ *models.User, filter files.ListFilter) ([]*models.DownloadableFile, error) {
	f.filter = filter
	return []*models.DownloadableFile{{ID: 1, TrialID: "T1", UploadType: "olink", ObjectURL: "T1/olink/a"}}, nil
}

func (f *fakeDownloads) DownloadURL(_ context.Context, u *models.User, id int64) (*models.DownloadLink, error) {
	if u.ID != admin.ID {
		return nil, common.ErrorForbidden
	}
	return &models.DownloadLink{FileID: id, URL: "https://signed/x", Expires: time.Unix(100, 0)}, nil
}

type fixture struct {
	server    *GRPCServer
	users     *fakeUsers
	perms     *fakePerms
	uploads   *fakeUploads
	syncer    *fakeSyncer
	inserter  *fakeInserter
	downloads *fakeDownloads
}

func newFixture() *fixture {
	f := &fixture{
		users:     &fakeUsers{byID: map[int64]*models.User{admin.ID: admin, member.ID: member}},
		perms:     &fakePerms{},
		uploads:   &fakeUploads{},
		syncer:    &fakeSyncer{},
		inserter:  &fakeInserter{},
		downloads: &fakeDownloads{},
	}
	f.server = NewGRPCServer("127.0.0.1:0", logging.Nop(), Services{
		Users:       f.users,
		Permissions: f.perms,
		Uploads:     f.uploads,
		Syncer:      f.syncer,
		Manifests:   f.inserter,
		Trials:      fakeTrials{},
		Downloads:   f.downloads,
	}, testSecret)
	return f
}

// as returns a context authenticated as u, the way the interceptor leaves
// it for handlers.
func as(u *models.User) context.Context {
	return context.WithValue(context.Background(), userKey, u)
}
