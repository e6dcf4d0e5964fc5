package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
)

func migrateCMD(flags *rootFlags) *cobra.Command {
	var (
		migDir    string
		direction string
		steps     int
	)
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if err := cfg.Storage.Postgres.Validate(); err != nil {
				return fmt.Errorf("postgres not configured: %w", err)
			}
			dsn := cfg.Storage.Postgres.DSN()
			if migDir == "" {
				migDir = cfg.Storage.Postgres.MigrationsDir
			}
			logger.Info("migrating", zap.String("direction", direction), zap.Int("steps", steps), zap.String("dir", migDir))
			return runstore.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "", "migrations source (default: embedded)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
