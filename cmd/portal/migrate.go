package main

import (
	"github.com/smallbiznis/portal/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			fx.NopLogger,
			infrastructure(),
			migration.Module,
		)
		if err := app.Start(cmd.Context()); err != nil {
			return err
		}
		return app.Stop(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
