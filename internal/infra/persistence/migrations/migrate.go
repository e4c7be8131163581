// Package migrations wires golang-migrate execution for the notification journal.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	dbmigrations "github.com/coachpo/arbwatch/db/migrations"
	"github.com/coachpo/arbwatch/internal/infra/telemetry"
	"github.com/coachpo/arbwatch/internal/observability"
)

const embeddedSource = "embedded"

var (
	errNotDirectory = errors.New("migrations path must be a directory")

	migrationsCounter   metric.Int64Counter
	migrationsCounterMu sync.Once
)

// Apply runs every pending migration found in migrationsDir.
func Apply(ctx context.Context, dsn, migrationsDir string, logger observability.Logger) error {
	resolved, err := resolveDir(migrationsDir)
	if err != nil {
		return err
	}
	return withMigrator(ctx, dsn, resolved, logger, func(m *migrate.Migrate) error {
		return up(ctx, m, resolved, logger)
	})
}

// ApplyEmbedded runs the migrations compiled into the binary.
func ApplyEmbedded(ctx context.Context, dsn string, logger observability.Logger) error {
	return withMigrator(ctx, dsn, embeddedSource, logger, func(m *migrate.Migrate) error {
		return up(ctx, m, embeddedSource, logger)
	})
}

// Rollback reverts steps migrations found in migrationsDir.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int, logger observability.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be >0")
	}
	resolved, err := resolveDir(migrationsDir)
	if err != nil {
		return err
	}
	return withMigrator(ctx, dsn, resolved, logger, func(m *migrate.Migrate) error {
		if err := m.Steps(-steps); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				recordMigrationMetric(ctx, "noop", resolved)
				return nil
			}
			recordMigrationMetric(ctx, "failed", resolved)
			return fmt.Errorf("rollback migrations: %w", err)
		}
		recordMigrationMetric(ctx, "rolled_back", resolved)
		observability.OrGlobal(logger).Info("database migrations rolled back", observability.F("steps", steps))
		return nil
	})
}

func up(ctx context.Context, m *migrate.Migrate, source string, logger observability.Logger) error {
	log := observability.OrGlobal(logger)
	log.Info("running database migrations", observability.F("source", source))
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			recordMigrationMetric(ctx, "noop", source)
			log.Info("database migrations up-to-date")
			return nil
		}
		recordMigrationMetric(ctx, "failed", source)
		return fmt.Errorf("apply migrations: %w", err)
	}
	recordMigrationMetric(ctx, "applied", source)
	log.Info("database migrations applied")
	return nil
}

func withMigrator(ctx context.Context, dsn, source string, logger observability.Logger, fn func(*migrate.Migrate) error) error {
	log := observability.OrGlobal(logger)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Warn("database migrations close", observability.Err(cerr))
		}
	}()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping migrations database: %w", err)
	}

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{})
	if err != nil {
		return fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	var m *migrate.Migrate
	if source == embeddedSource {
		src, serr := iofs.New(dbmigrations.Files, ".")
		if serr != nil {
			return fmt.Errorf("open embedded migrations: %w", serr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "pgx5", driver)
	} else {
		m, err = migrate.NewWithDatabaseInstance(fileURL(source), "pgx5", driver)
	}
	if err != nil {
		return fmt.Errorf("initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			log.Warn("database migrations source close", observability.Err(sourceErr))
		}
		if dbErr != nil {
			log.Warn("database migrations db close", observability.Err(dbErr))
		}
	}()
	return fn(m)
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}
	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := &url.URL{Scheme: "file", Path: slashed}
	return u.String()
}

func recordMigrationMetric(ctx context.Context, result, source string) {
	migrationsCounterMu.Do(func() {
		counter, err := otel.Meter("arbwatch.migrations").Int64Counter("arbwatch.db.migrations",
			metric.WithDescription("Migration runs executed via golang-migrate"),
			metric.WithUnit("{migration}"))
		if err == nil {
			migrationsCounter = counter
		}
	})
	if migrationsCounter == nil {
		return
	}
	attrs := []attribute.KeyValue{
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		telemetry.AttrResult.String(result),
	}
	if source != "" {
		attrs = append(attrs, attribute.String("migrations.source", source))
	}
	migrationsCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
