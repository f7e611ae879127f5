package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/permissions"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/users"
)

// -------- test fakes --------

type fakeUsersRepo struct {
	users.Repository
	byID map[int64]*models.User
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) List(context.Context) ([]*models.User, error) {
	out := make([]*models.User, 0, len(f.byID))
	for _, u := range f.byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakePermsRepo struct {
	permissions.Repository
	users  *fakeUsersRepo
	rows   map[int64]*models.Permission
	nextID int64
}

func (f *fakePermsRepo) sorted() []*models.Permission {
	out := make([]*models.Permission, 0, len(f.rows))
	for _, p := range f.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakePermsRepo) add(p *models.Permission) *models.Permission {
	f.nextID++
	cp := *p
	cp.ID = f.nextID
	cp.CreatedAt = time.Date(2024, 1, int(f.nextID), 0, 0, 0, 0, time.UTC)
	f.rows[cp.ID] = &cp
	return &cp
}

func (f *fakePermsRepo) snapshot() []models.Permission {
	var out []models.Permission
	for _, p := range f.sorted() {
		out = append(out, *p)
	}
	return out
}

func (f *fakePermsRepo) Insert(_ context.Context, p *models.Permission) (*models.Permission, error) {
	for _, r := range f.rows {
		if r.GrantedToUser == p.GrantedToUser && r.Trial == p.Trial && r.UploadType == p.UploadType {
			return nil, fmt.Errorf("%w: permissions_unique", common.ErrAlreadyExists)
		}
	}
	added := f.add(p)
	*p = *added
	return p, nil
}

func (f *fakePermsRepo) Restore(_ context.Context, p *models.Permission) error {
	if _, ok := f.rows[p.ID]; ok {
		return common.ErrAlreadyExists
	}
	cp := *p
	f.rows[p.ID] = &cp
	return nil
}

func (f *fakePermsRepo) Delete(_ context.Context, id int64) error {
	if _, ok := f.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakePermsRepo) GetByID(_ context.Context, id int64) (*models.Permission, error) {
	p, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePermsRepo) ListForUser(_ context.Context, userID int64) ([]*models.Permission, error) {
	var out []*models.Permission
	for _, p := range f.sorted() {
		if p.GrantedToUser == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePermsRepo) ListSuperseded(_ context.Context, np *models.Permission) ([]*models.Permission, error) {
	var out []*models.Permission
	for _, p := range f.sorted() {
		if np.Supersedes(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePermsRepo) CountForUser(ctx context.Context, userID int64) (int, error) {
	perms, _ := f.ListForUser(ctx, userID)
	return len(perms), nil
}

func (f *fakePermsRepo) FindForUserTrialType(_ context.Context, userID int64, trialID, uploadType string) ([]*models.Permission, error) {
	var out []*models.Permission
	for _, p := range f.sorted() {
		if p.GrantedToUser != userID {
			continue
		}
		exact := p.Trial.Is(trialID) && p.UploadType.Is(uploadType)
		crossTrial := p.Trial.IsEvery() && p.UploadType.Is(uploadType)
		crossType := p.Trial.Is(trialID) && p.UploadType.IsEvery() && uploadType != common.ClinicalDataUploadType
		if exact || crossTrial || crossType {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePermsRepo) ListGrants(_ context.Context, trial, uploadType models.Scope) ([]*models.Grant, error) {
	var out []*models.Grant
	for _, p := range f.sorted() {
		u := f.users.byID[p.GrantedToUser]
		if !p.Matches(trial, uploadType) {
			continue
		}
		out = append(out, &models.Grant{Permission: p, Grantee: u})
	}
	return out, nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	u *fakeUsersRepo
	p *fakePermsRepo
}

func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository             { return m.u }
func (m *fakeRepoManager) Permissions(dbx.DBTX) permissions.Repository { return m.p }

type fakeAccess struct {
	calls []string
	fail  map[string]error
}

func (f *fakeAccess) record(method string, args ...any) error {
	parts := []string{method}
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	f.calls = append(f.calls, strings.Join(parts, " "))
	return f.fail[method]
}

func (f *fakeAccess) GrantListerAccess(_ context.Context, email string) error {
	return f.record("GrantLister", email)
}
func (f *fakeAccess) RevokeListerAccess(_ context.Context, email string) error {
	return f.record("RevokeLister", email)
}
func (f *fakeAccess) GrantDownloadAccess(_ context.Context, emails []string, trial models.Scope, types []string) error {
	return f.record("GrantDownload", emails, trial, types)
}
func (f *fakeAccess) RevokeDownloadAccess(_ context.Context, emails []string, trial models.Scope, types []string) error {
	return f.record("RevokeDownload", emails, trial, types)
}
func (f *fakeAccess) RefreshIntakeAccess(_ context.Context, email string) error {
	return f.record("RefreshIntake", email)
}
func (f *fakeAccess) RevokeIntakeAccess(_ context.Context, email string) error {
	return f.record("RevokeIntake", email)
}

// -------- helpers --------

var approved = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

func user(id int64, email string, role models.Role) *models.User {
	return &models.User{ID: id, Email: email, Role: role, ApprovalDate: &approved}
}

type fixture struct {
	db     *sql.DB
	mock   sqlmock.Sqlmock
	users  *fakeUsersRepo
	perms  *fakePermsRepo
	access *fakeAccess
	svc    *Service
}

func newFixture(t *testing.T, us ...*models.User) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ur := &fakeUsersRepo{byID: map[int64]*models.User{}}
	for _, u := range us {
		ur.byID[u.ID] = u
	}
	pr := &fakePermsRepo{users: ur, rows: map[int64]*models.Permission{}}
	acc := &fakeAccess{fail: map[string]error{}}

	return &fixture{
		db: db, mock: mock, users: ur, perms: pr, access: acc,
		svc: NewService(db, &fakeRepoManager{u: ur, p: pr}, acc, nil, logging.Nop()),
	}
}

func perm(user int64, trial, uploadType string) *models.Permission {
	return &models.Permission{
		GrantedToUser: user,
		GrantedByUser: 100,
		Trial:         models.Specific(trial),
		UploadType:    models.Specific(uploadType),
	}
}
