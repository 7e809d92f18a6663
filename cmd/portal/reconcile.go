package main

import (
	"context"
	"time"

	authdomain "github.com/smallbiznis/portal/internal/auth/domain"
	invoicedomain "github.com/smallbiznis/portal/internal/invoice/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const reconcileSubject = "system:reconcile"

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-apply provider results whose local write-back failed",
	Long: `Reconcile replays pending invoice_reconciliations rows. Each row holds
the provider outcome of an invoice that was issued at the billing provider
while the local update failed.`,
	Example: `  portal reconcile
  portal reconcile --timeout 2m`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Duration("timeout", time.Minute, "Maximum time for one reconciliation pass")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	var (
		invoices invoicedomain.Service
		log      *zap.Logger
	)
	app := fx.New(
		fx.NopLogger,
		infrastructure(),
		domains(),
		fx.Populate(&invoices, &log),
	)
	if err := app.Start(cmd.Context()); err != nil {
		return err
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx = authdomain.WithIdentity(ctx, &authdomain.Identity{
		Subject: reconcileSubject,
		Roles:   []string{authdomain.RoleAdmin},
	})

	applied, err := invoices.ReconcilePending(ctx)
	if err != nil {
		log.Error("reconciliation failed", zap.Int("applied", applied), zap.Error(err))
		return err
	}
	log.Info("reconciliation finished", zap.Int("applied", applied))
	return nil
}
