package users

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/trialregistry/internal/server/repositories/users"
	"github.com/dmitrijs2005/trialregistry/internal/timex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeUsersRepo struct {
	usersrepo.Repository
	byEmail map[string]*models.User

	createErr   error
	createCalls int
	accessed    map[int64]time.Time
	approved    map[int64]models.Role
	cutoff      time.Time
	inactive    []*models.User
	inactiveErr error
}

func newFakeUsersRepo(us ...*models.User) *fakeUsersRepo {
	f := &fakeUsersRepo{byEmail: map[string]*models.User{}, accessed: map[int64]time.Time{}, approved: map[int64]models.Role{}}
	for _, u := range us {
		f.byEmail[u.Email] = u
	}
	return f
}

func (f *fakeUsersRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	if u, ok := f.byEmail[email]; ok {
		return u, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	for _, u := range f.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	u.ID = int64(len(f.byEmail) + 1)
	f.byEmail[u.Email] = u
	return u, nil
}

func (f *fakeUsersRepo) UpdateAccessed(_ context.Context, id int64, at time.Time) error {
	f.accessed[id] = at
	return nil
}

func (f *fakeUsersRepo) Approve(_ context.Context, id int64, role models.Role, at time.Time) error {
	u, err := f.GetByID(context.Background(), id)
	if err != nil {
		return err
	}
	f.approved[id] = role
	u.Role = role
	u.ApprovalDate = &at
	return nil
}

func (f *fakeUsersRepo) DisableInactive(_ context.Context, cutoff time.Time) ([]*models.User, error) {
	f.cutoff = cutoff
	return f.inactive, f.inactiveErr
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	users *fakeUsersRepo
}

func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository { return m.users }

type fakeRevoker struct {
	revoked   []string
	bqRevoked []string
	fail      map[string]error
}

func (f *fakeRevoker) RevokeUserPermissions(_ context.Context, u *models.User) error {
	f.revoked = append(f.revoked, u.Email)
	return f.fail[u.Email]
}

func (f *fakeRevoker) RevokeBigQueryAccess(_ context.Context, email string) error {
	f.bqRevoked = append(f.bqRevoked, email)
	return nil
}

func newService(repo *fakeUsersRepo, rev *fakeRevoker) *Service {
	return NewService(&sql.DB{}, &fakeRepoManager{users: repo}, rev, rev, 60, timex.Fixed(now), logging.Nop())
}

func TestEnsureUser(t *testing.T) {
	existing := &models.User{ID: 7, Email: "old@x.org"}
	repo := newFakeUsersRepo(existing)
	s := newService(repo, &fakeRevoker{})

	got, err := s.EnsureUser(context.Background(), "old@x.org")
	require.NoError(t, err)
	assert.Same(t, existing, got)
	assert.Zero(t, repo.createCalls)

	got, err = s.EnsureUser(context.Background(), "new@x.org")
	require.NoError(t, err)
	assert.Equal(t, "new@x.org", got.Email)
	assert.Equal(t, now, got.Accessed)
	assert.Nil(t, got.ApprovalDate)
	assert.Equal(t, 1, repo.createCalls)

	_, err = s.EnsureUser(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestEnsureUser_CreateError(t *testing.T) {
	repo := newFakeUsersRepo()
	repo.createErr = errors.New("db down")
	s := newService(repo, &fakeRevoker{})

	_, err := s.EnsureUser(context.Background(), "a@x.org")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestCurrentUser(t *testing.T) {
	repo := newFakeUsersRepo(
		&models.User{ID: 1, Email: "a@x.org"},
		&models.User{ID: 2, Email: "off@x.org", Disabled: true},
	)
	s := newService(repo, &fakeRevoker{})

	u, err := s.CurrentUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "a@x.org", u.Email)

	_, err = s.CurrentUser(context.Background(), 2)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = s.CurrentUser(context.Background(), 3)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestUpdateAccessed(t *testing.T) {
	fresh := &models.User{ID: 1, Email: "a@x.org", Accessed: now.Add(-2 * time.Hour)}
	stale := &models.User{ID: 2, Email: "b@x.org", Accessed: now.Add(-25 * time.Hour)}
	repo := newFakeUsersRepo(fresh, stale)
	s := newService(repo, &fakeRevoker{})

	require.NoError(t, s.UpdateAccessed(context.Background(), fresh))
	require.NoError(t, s.UpdateAccessed(context.Background(), stale))

	assert.Equal(t, map[int64]time.Time{2: now}, repo.accessed)
	assert.Equal(t, now, stale.Accessed)
}

func TestApprove(t *testing.T) {
	repo := newFakeUsersRepo(&models.User{ID: 1, Email: "a@x.org"})
	s := newService(repo, &fakeRevoker{})

	u, err := s.Approve(context.Background(), 1, models.RoleCIMACUser)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCIMACUser, u.Role)
	require.NotNil(t, u.ApprovalDate)
	assert.Equal(t, now, *u.ApprovalDate)

	_, err = s.Approve(context.Background(), 1, "emperor")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = s.Approve(context.Background(), 9, models.RoleAdmin)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDisableInactiveUsers(t *testing.T) {
	repo := newFakeUsersRepo()
	repo.inactive = []*models.User{
		{ID: 1, Email: "a@x.org"},
		{ID: 2, Email: "b@x.org"},
	}
	rev := &fakeRevoker{fail: map[string]error{}}
	s := newService(repo, rev)

	emails, err := s.DisableInactiveUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.org", "b@x.org"}, emails)
	assert.Equal(t, now.AddDate(0, 0, -60), repo.cutoff)
	assert.Equal(t, []string{"a@x.org", "b@x.org"}, rev.revoked)
	assert.Equal(t, []string{"a@x.org", "b@x.org"}, rev.bqRevoked)
}

func TestDisableInactiveUsers_CollectsRevokeFailures(t *testing.T) {
	repo := newFakeUsersRepo()
	repo.inactive = []*models.User{{ID: 1, Email: "a@x.org"}, {ID: 2, Email: "b@x.org"}}
	iamErr := errors.New("iam unavailable")
	rev := &fakeRevoker{fail: map[string]error{"a@x.org": iamErr}}
	s := newService(repo, rev)

	emails, err := s.DisableInactiveUsers(context.Background())
	assert.ErrorIs(t, err, iamErr)
	assert.Equal(t, []string{"a@x.org", "b@x.org"}, emails)
	assert.Equal(t, []string{"a@x.org", "b@x.org"}, rev.bqRevoked)
}

func TestDisableInactiveUsers_RepoError(t *testing.T) {
	repo := newFakeUsersRepo()
	repo.inactiveErr = errors.New("db down")
	s := newService(repo, &fakeRevoker{})

	emails, err := s.DisableInactiveUsers(context.Background())
	require.Error(t, err)
	assert.Nil(t, emails)
}
