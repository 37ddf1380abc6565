package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/venuegate/server/internal/config"
	"github.com/venuegate/server/internal/db"
	"github.com/venuegate/server/internal/venue/store"
	"github.com/venuegate/server/internal/venue/store/memory"
	"github.com/venuegate/server/internal/venue/store/sqlite"
)

// backend is the storage the services run on, whichever driver is
// configured.
type backend struct {
	tenants      store.TenantStore
	credentials  store.CredentialStore
	ledger       store.Ledger
	devices      store.DeviceStore
	areas        store.AreaStore
	integrations store.IntegrationStore
	monitors     store.MonitorStore
	reports      store.StatusReportStore

	// ping backs the gRPC health status; nil when there is nothing to check.
	ping  func(context.Context) error
	close func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	if cfg.Storage == "memory" {
		ms := memory.New()
		if cfg.SeedDev {
			seedMemory(ms)
			logger.Info("seeded in-memory demo venue")
		}
		return &backend{
			tenants:      ms,
			credentials:  ms,
			ledger:       ms,
			devices:      ms,
			areas:        ms,
			integrations: ms,
			monitors:     ms,
			reports:      ms,
			close:        func() {},
		}, nil
	}

	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	version, err := db.SchemaVersion(ctx, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	logger.Info("database ready", slog.String("path", cfg.DBPath), slog.Int("schema_version", version))

	if cfg.SeedDev {
		if err := db.SeedDev(ctx, sqlDB, db.SeedDevOptions{}); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		logger.Info("seeded demo venue")
	}

	writer := db.NewWorker(sqlDB)
	s := sqlite.New(sqlDB, writer)
	return &backend{
		tenants:      s.Tenants,
		credentials:  s.Credentials,
		ledger:       s.Ledger,
		devices:      s.Devices,
		areas:        s.Catalog,
		integrations: s.Catalog,
		monitors:     s.Catalog,
		reports:      s.StatusReports,
		ping:         pinger(sqlDB),
		close: func() {
			writer.Close()
			_ = sqlDB.Close()
		},
	}, nil
}

func pinger(sqlDB *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error { return sqlDB.PingContext(ctx) }
}

// seedMemory loads the same demo venue db.SeedDev writes to SQLite.
func seedMemory(ms *memory.Store) {
	pool := int64(1)
	limit := 250
	ms.PutTenant(store.Tenant{ID: 1, Name: "Demo Venue", Subdomain: "demo", APIToken: "dev-token", Active: true})
	ms.PutArea(store.Area{ID: 1, TenantID: 1, Name: "Pool", PersonLimit: &limit})
	ms.PutDevice(store.Device{ID: 1, TenantID: 1, Name: "Pool Turnstile", Active: true, EntryAreaID: &pool})
	ms.PutDevice(store.Device{
		ID:         2,
		TenantID:   1,
		Name:       "Pool Exit Gate",
		Active:     true,
		ExitAreaID: &pool,
		Hardware:   &store.RelaySwitch{},
	})
	ms.PutCredential(store.Credential{
		ID:           1,
		TenantID:     1,
		Name:         "Demo Day Pass",
		TicketType:   "DAY",
		Barcode:      "DEMO-001",
		AccessAreaID: &pool,
	})
	ms.PutMonitor(store.Monitor{ID: 1, TenantID: 1, Name: "Pool Entrance", Token: "dev-monitor", Active: true, AreaIDs: []int64{pool}})
}
