package sqlite

import (
	"database/sql"

	dbpkg "github.com/venuegate/server/internal/db"
	"github.com/venuegate/server/internal/venue/store"
)

var (
	_ store.TenantStore       = (*TenantStore)(nil)
	_ store.CredentialStore   = (*CredentialStore)(nil)
	_ store.Ledger            = (*Ledger)(nil)
	_ store.DeviceStore       = (*DeviceStore)(nil)
	_ store.AreaStore         = (*CatalogStore)(nil)
	_ store.IntegrationStore  = (*CatalogStore)(nil)
	_ store.MonitorStore      = (*CatalogStore)(nil)
	_ store.StatusReportStore = (*StatusReportStore)(nil)
)

// Stores bundles every SQLite-backed store over one connection pool and
// one writer.
type Stores struct {
	Tenants       *TenantStore
	Credentials   *CredentialStore
	Ledger        *Ledger
	Devices       *DeviceStore
	Catalog       *CatalogStore
	StatusReports *StatusReportStore
}

func New(db *sql.DB, writer *dbpkg.Worker) *Stores {
	return &Stores{
		Tenants:       NewTenantStore(db),
		Credentials:   NewCredentialStore(db),
		Ledger:        NewLedger(db, writer),
		Devices:       NewDeviceStore(db, writer),
		Catalog:       NewCatalogStore(db),
		StatusReports: NewStatusReportStore(db, writer),
	}
}
