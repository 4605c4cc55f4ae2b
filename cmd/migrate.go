package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

type migrationStep struct {
	name string
	m    migrator
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the golden, serving and venue tables",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "migrate")
		if err != nil {
			return err
		}
		defer env.Close()

		// Serving migrations reference golden records.
		steps := []migrationStep{
			{"golden", env.Golden},
			{"serving", env.Serving},
			{"venue", env.Venues},
		}
		return runMigrations(ctx, steps)
	},
}

func runMigrations(ctx context.Context, steps []migrationStep) error {
	for _, s := range steps {
		if err := s.m.Migrate(ctx); err != nil {
			return eris.Wrapf(err, "migrate %s", s.name)
		}
		zap.L().Info("migrated", zap.String("schema", s.name))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
