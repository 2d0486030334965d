package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-mailflow/core"
	"github.com/goliatone/go-mailflow/migrations"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool {
	return c.debug
}

func (c persistenceConfig) GetDriver() string {
	return c.driver
}

func (c persistenceConfig) GetServer() string {
	return c.server
}

func (c persistenceConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c persistenceConfig) GetOtelIdentifier() string {
	return "go-mailflow"
}

// Journal owns the persistence client backing the dead letter store.
type Journal struct {
	client *persistence.Client
	store  *DeadLetterStore
}

// Open connects to the configured database, applies the mailflow
// migrations for its dialect and returns the dead letter journal.
func Open(ctx context.Context, cfg core.DeadLetterConfig) (*Journal, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "sqlite" {
		driver = DriverSQLite
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: dead letter dsn is required")
	}

	var targetDialect string
	switch driver {
	case DriverSQLite:
		targetDialect = migrations.DialectSQLite
	case DriverPostgres:
		targetDialect = migrations.DialectPostgres
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	pcfg := persistenceConfig{driver: driver, server: dsn, debug: cfg.Debug}
	var client *persistence.Client
	if driver == DriverPostgres {
		client, err = persistence.New(pcfg, sqlDB, pgdialect.New())
	} else {
		client, err = persistence.New(pcfg, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}

	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != targetDialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithDialects(targetDialect))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}

	journal, err := NewJournal(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return journal, nil
}

// NewJournal builds a journal on an already migrated persistence client or
// bun db.
func NewJournal(persistenceClient any) (*Journal, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	store, err := NewDeadLetterStore(db)
	if err != nil {
		return nil, err
	}
	journal := &Journal{store: store}
	if client, ok := persistenceClient.(*persistence.Client); ok {
		journal.client = client
	}
	return journal, nil
}

func (j *Journal) DeadLetters() *DeadLetterStore {
	if j == nil {
		return nil
	}
	return j.store
}

func (j *Journal) DB() *bun.DB {
	if j == nil || j.store == nil {
		return nil
	}
	return j.store.db
}

// Close releases the persistence client when the journal opened it.
func (j *Journal) Close() error {
	if j == nil || j.client == nil {
		return nil
	}
	return j.client.Close()
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
