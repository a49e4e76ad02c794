package main

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taskboard-live/backend/internal/config"
	"github.com/taskboard-live/backend/internal/db"
	"github.com/taskboard-live/backend/internal/logging"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the board and task schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
			conn, err := db.Open(cfg.DB.Path)
			if err != nil {
				return err
			}
			defer conn.Close()

			log.WithField("path", cfg.DB.Path).Info("Schema is up to date")
			return nil
		},
	}
}
