package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/photoimport/internal/dbx"
	"github.com/dmitrijs2005/photoimport/internal/ingest/repositories/apicalls"
	"github.com/dmitrijs2005/photoimport/internal/ingest/repositories/assets"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Assets(db dbx.DBTX) assets.Repository
	ApiCalls(db dbx.DBTX) apicalls.Repository
}
