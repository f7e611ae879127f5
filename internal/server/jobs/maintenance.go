package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/trialregistry/internal/common"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/csms"
	"github.com/dmitrijs2005/trialregistry/internal/server/models"
)

// Maintenance task names.
const (
	TaskDisableInactive = "disable-inactive"
	TaskGrantAll        = "grant-all"
	TaskRevokeAll       = "revoke-all"
	TaskGrantDownload   = "grant-download"
	TaskRevokeDownload  = "revoke-download"
	TaskSyncCSMS        = "sync-csms"
)

// Tasks lists every task Maintenance can run.
func Tasks() []string {
	out := []string{TaskDisableInactive, TaskGrantAll, TaskRevokeAll, TaskGrantDownload, TaskRevokeDownload, TaskSyncCSMS}
	sort.Strings(out)
	return out
}

type InactiveUserDisabler interface {
	DisableInactiveUsers(ctx context.Context) ([]string, error)
}

// PermissionSweeper re-applies or withdraws cloud access in bulk.
type PermissionSweeper interface {
	GrantAllIAMPermissions(ctx context.Context) error
	RevokeAllIAMPermissions(ctx context.Context) error
	GrantDownloadPermissions(ctx context.Context, trial, uploadType models.Scope) error
	RevokeDownloadPermissions(ctx context.Context, trial, uploadType models.Scope) error
}

type ManifestSyncer interface {
	SyncManifests(ctx context.Context, uploaderEmail string) ([]csms.Result, error)
}

// Task is one maintenance invocation. Trial and UploadType filter the
// download tasks, Email attributes synced manifests.
type Task struct {
	Name       string
	Trial      models.Scope
	UploadType models.Scope
	Email      string
}

type Maintenance struct {
	users  InactiveUserDisabler
	perms  PermissionSweeper
	syncer ManifestSyncer
	logger logging.Logger
}

// NewMaintenance wires the task runner. syncer may be nil when CSMS is not
// configured.
func NewMaintenance(users InactiveUserDisabler, perms PermissionSweeper, syncer ManifestSyncer, logger logging.Logger) *Maintenance {
	return &Maintenance{users: users, perms: perms, syncer: syncer, logger: logger.With("module", "maintenance")}
}

func (m *Maintenance) Run(ctx context.Context, t Task) error {
	m.logger.Info(ctx, "maintenance task started", "task", t.Name)
	err := m.run(ctx, t)
	if err != nil {
		m.logger.Error(ctx, "maintenance task failed", "task", t.Name, "error", err)
		return err
	}
	m.logger.Info(ctx, "maintenance task finished", "task", t.Name)
	return nil
}

func (m *Maintenance) run(ctx context.Context, t Task) error {
	switch t.Name {
	case TaskDisableInactive:
		emails, err := m.users.DisableInactiveUsers(ctx)
		if len(emails) > 0 {
			m.logger.Info(ctx, "inactive users disabled", "count", len(emails), "emails", strings.Join(emails, ","))
		}
		return err
	case TaskGrantAll:
		return m.perms.GrantAllIAMPermissions(ctx)
	case TaskRevokeAll:
		return m.perms.RevokeAllIAMPermissions(ctx)
	case TaskGrantDownload:
		return m.perms.GrantDownloadPermissions(ctx, t.Trial, t.UploadType)
	case TaskRevokeDownload:
		return m.perms.RevokeDownloadPermissions(ctx, t.Trial, t.UploadType)
	case TaskSyncCSMS:
		if m.syncer == nil {
			return common.NewValidationError("csms is not configured")
		}
		if t.Email == "" {
			return common.NewValidationError("sync-csms needs an uploader email")
		}
		results, err := m.syncer.SyncManifests(ctx, t.Email)
		counts := map[csms.Action]int{}
		for _, r := range results {
			counts[r.Action]++
		}
		m.logger.Info(ctx, "csms manifests synced",
			"inserted", counts[csms.ActionInserted], "updated", counts[csms.ActionUpdated],
			"unchanged", counts[csms.ActionUnchanged], "skipped", counts[csms.ActionSkipped], "failed", counts[csms.ActionFailed])
		return err
	}
	return common.NewValidationError("unknown task %q, expected one of %s", t.Name, strings.Join(Tasks(), ", "))
}

// ParseTask builds a Task from command-line style arguments: the task name
// followed by optional trial and upload type filters.
func ParseTask(args []string, email string) (Task, error) {
	if len(args) == 0 {
		return Task{}, fmt.Errorf("missing task, expected one of %s", strings.Join(Tasks(), ", "))
	}
	t := Task{Name: args[0], Trial: models.Every, UploadType: models.Every, Email: email}
	if len(args) > 1 {
		t.Trial = models.ParseScope(args[1])
	}
	if len(args) > 2 {
		t.UploadType = models.ParseScope(args[2])
	}
	if len(args) > 3 {
		return Task{}, fmt.Errorf("too many arguments for %s", t.Name)
	}
	return t, nil
}
