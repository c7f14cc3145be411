package main

import (
	"fmt"

	"github.com/fjod/go_shop/internal/repository"
	"github.com/fjod/go_shop/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			cred := credentials(cfg)
			repo, err := repository.NewRepository(cred, log)
			if err != nil {
				return err
			}
			defer repo.Close()

			if err := repo.RunMigrations(cred); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("database migrations completed", zap.String("db", cfg.DBName))
			return nil
		},
	}
}
