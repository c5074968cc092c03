package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/graph"
	"voice-assistant/backend/internal/history"
	"voice-assistant/backend/pkg/config"
	"voice-assistant/backend/pkg/logger"
)

const migrationVersion = "history_schema_v1"

func main() {
	force := flag.Bool("force", false, "Force migration even if already applied")
	backend := flag.String("backend", "", "History backend to migrate (neo4j or postgres); defaults to HISTORY_BACKEND")
	flag.Parse()

	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *backend != "" {
		cfg.HistoryBackend = *backend
	}

	ctx := context.Background()
	switch cfg.HistoryBackend {
	case config.HistoryNeo4j:
		if err := migrateNeo4j(ctx, cfg, *force, log); err != nil {
			log.Fatal("Migration failed", zap.Error(err))
		}
	case config.HistoryPostgres:
		store, err := history.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			log.Fatal("Migration failed", zap.Error(err))
		}
	default:
		log.Info("In-memory history needs no migration", zap.String("backend", cfg.HistoryBackend))
		os.Exit(0)
	}

	log.Info("Migration completed successfully!", zap.String("backend", cfg.HistoryBackend))
}

func migrateNeo4j(ctx context.Context, cfg *config.Config, force bool, log *zap.Logger) error {
	driver, err := graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return err
	}
	repo := graph.NewRepository(driver)
	defer repo.Close()

	if !force {
		applied, err := checkMigrationApplied(ctx, driver)
		if err != nil {
			return fmt.Errorf("check migration status: %w", err)
		}
		if applied {
			log.Info("Migration already applied. Use -force to reapply.")
			return nil
		}
	}

	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}

	if err := markMigrationApplied(ctx, driver); err != nil {
		log.Warn("Failed to mark migration as applied", zap.Error(err))
	}
	return nil
}

func checkMigrationApplied(ctx context.Context, driver neo4j.DriverWithContext) (bool, error) {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Migration {version: $version}) RETURN m.applied_at AS applied_at`,
		map[string]any{"version": migrationVersion})
	if err != nil {
		return false, err
	}
	return result.Next(ctx), nil
}

func markMigrationApplied(ctx context.Context, driver neo4j.DriverWithContext) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MERGE (m:Migration {version: $version})
		SET m.applied_at = datetime(),
		    m.description = 'Conversation and message constraints for voice chat history'
	`, map[string]any{"version": migrationVersion})
	return err
}
