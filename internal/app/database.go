package app

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/MarkoPoloResearchLab/mealcredits/internal/reporting"
	"github.com/MarkoPoloResearchLab/mealcredits/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/mealcredits/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/mealcredits/internal/store/pgreport"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mealcredits/pkg/orders"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverMemory   = "memory"
)

// stores groups the persistence views the services run on.
type stores struct {
	driver  string
	ledger  ledger.Store
	orders  orders.Store
	reports reporting.Source
	close   func()
}

func openStores(ctx context.Context, cfg Config, logger *zap.Logger) (*stores, error) {
	driver, sqlitePath, err := resolveDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if driver == driverMemory {
		database := memstore.New()
		return &stores{
			driver:  driver,
			ledger:  database.LedgerStore(),
			orders:  database.OrderStore(),
			reports: database.Reporter(),
			close:   func() {},
		}, nil
	}

	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	var db *gorm.DB
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormConfig)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	closers := []func(){func() { _ = sqlDB.Close() }}
	closeAll := func() {
		for index := len(closers) - 1; index >= 0; index-- {
			closers[index]()
		}
	}

	if driver == driverSQLite {
		// SQLite has a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := prepareSchema(ctx, db, driver, cfg); err != nil {
		closeAll()
		return nil, err
	}

	var reports reporting.Source = gormstore.NewReporter(db)
	if driver == driverPostgres {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("open reporting pool: %w", err)
		}
		closers = append(closers, pool.Close)
		reports = pgreport.New(pool)
	}
	logger.Info("database ready", zap.String("driver", driver))
	return &stores{
		driver:  driver,
		ledger:  gormstore.New(db),
		orders:  gormstore.NewOrderStore(db),
		reports: reports,
		close:   closeAll,
	}, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "memory://") {
		return driverMemory, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "mealcredits.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(ctx context.Context, db *gorm.DB, driver string, cfg Config) error {
	switch driver {
	case driverSQLite:
		if err := db.WithContext(ctx).AutoMigrate(gormstore.Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	case driverPostgres:
		if cfg.MigrateOnStart {
			return Migrate(ctx, cfg.DatabaseURL)
		}
	}
	return nil
}
