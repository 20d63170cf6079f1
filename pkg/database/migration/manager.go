// Package migration runs golang-migrate schema migrations against the
// Postgres persistence layer, grounded on the teacher's
// pkg/database/migration.Manager.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"

	"github.com/knowledgebeast/knowledgebeast/pkg/observability"
)

// Config controls where migrations live and how long a run may take.
type Config struct {
	MigrationsPath string
	Timeout        time.Duration
}

func (c *Config) applyDefaults() {
	if c.MigrationsPath == "" {
		c.MigrationsPath = "migrations/sql"
	}
	if c.Timeout == 0 {
		c.Timeout = time.Minute
	}
}

// Manager applies and inspects schema migrations for the kb.projects,
// kb.api_keys and kb.chunks tables (spec §3 EXPANDED persistence mapping).
type Manager struct {
	db       *sqlx.DB
	config   Config
	migrator *migrate.Migrate
	logger   observability.Logger
}

// NewManager builds a Manager. db must be open and reachable.
func NewManager(db *sqlx.DB, config Config, logger observability.Logger) (*Manager, error) {
	if db == nil {
		return nil, errors.New("db connection cannot be nil")
	}
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Manager{db: db, config: config, logger: logger}, nil
}

func (m *Manager) init() error {
	if m.migrator != nil {
		return nil
	}
	driver, err := postgres.WithInstance(m.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating postgres migration driver: %w", err)
	}
	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", m.config.MigrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	m.migrator = migrator
	return nil
}

// Up applies every pending migration, bounded by the configured
// timeout.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.init(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := m.migrator.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		m.logger.Info("migrations applied", nil)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("migration timed out after %s", m.config.Timeout)
	}
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.init(); err != nil {
		return err
	}
	return m.migrator.Steps(-1)
}

// Version reports the current schema version and whether it's dirty
// (a prior migration failed partway through).
func (m *Manager) Version() (version uint, dirty bool, err error) {
	if err := m.init(); err != nil {
		return 0, false, err
	}
	version, dirty, err = m.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Close releases the migrator's source and database handles.
func (m *Manager) Close() error {
	if m.migrator == nil {
		return nil
	}
	sourceErr, dbErr := m.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing migration source: %w", sourceErr)
	}
	return dbErr
}
