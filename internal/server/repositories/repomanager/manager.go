package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/trialregistry/internal/dbx"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/files"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/manifests"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/permissions"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/trials"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/uploadjobs"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Permissions(db dbx.DBTX) permissions.Repository
	Trials(db dbx.DBTX) trials.Repository
	UploadJobs(db dbx.DBTX) uploadjobs.Repository
	Manifests(db dbx.DBTX) manifests.Repository
	Files(db dbx.DBTX) files.Repository
}
