package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	migrationsRoot = "data/sql/migrations"
)

// goose keeps its base FS and dialect in package globals
var migrateMu sync.Mutex

// OpenDB opens the account database for the configured driver
func OpenDB(ctx context.Context, cfg PersistenceConfig) (*bun.DB, error) {
	var db *bun.DB

	switch cfg.Driver {
	case DriverSQLite, "":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sqlite database")
		}
		// in memory databases live as long as their connection
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		sqldb, err := sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open postgres database")
		}
		if cfg.MaxOpenConns > 0 {
			sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, goerrors.New(fmt.Sprintf("unsupported database driver %q", cfg.Driver), goerrors.CategoryValidation).
			WithMetadata(map[string]any{"driver": cfg.Driver})
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.GetPingTimeout())
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to ping database")
	}

	return db, nil
}

// Migrate runs the embedded goose migrations for the database dialect
func Migrate(ctx context.Context, db *bun.DB) error {
	var gooseDialect, dir string

	switch db.Dialect().Name() {
	case dialect.SQLite:
		gooseDialect, dir = "sqlite3", path.Join(migrationsRoot, "sqlite")
	case dialect.PG:
		gooseDialect, dir = "pgx", path.Join(migrationsRoot, "postgres")
	default:
		return goerrors.New("unsupported migration dialect", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"dialect": db.Dialect().Name().String()})
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(gooseDialect); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to set migration dialect")
	}

	if err := goose.UpContext(ctx, db.DB, dir); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to run migrations")
	}

	return nil
}
