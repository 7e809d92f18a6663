package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/portal/internal/auth"
	"github.com/smallbiznis/portal/internal/authorization"
	"github.com/smallbiznis/portal/internal/billing"
	"github.com/smallbiznis/portal/internal/client"
	"github.com/smallbiznis/portal/internal/clock"
	"github.com/smallbiznis/portal/internal/config"
	"github.com/smallbiznis/portal/internal/events"
	"github.com/smallbiznis/portal/internal/invoice"
	"github.com/smallbiznis/portal/internal/lock"
	"github.com/smallbiznis/portal/internal/observability"
	"github.com/smallbiznis/portal/internal/payment"
	"github.com/smallbiznis/portal/internal/providers"
	"github.com/smallbiznis/portal/internal/storage"
	"github.com/smallbiznis/portal/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "portal",
	Short:         "Client portal invoice service",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "portal: %v\n", err)
		os.Exit(1)
	}
}

// infrastructure is shared by every command.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

func domains() fx.Option {
	return fx.Options(
		client.Module,
		auth.Module,
		authorization.Module,
		storage.Module,
		events.Module,
		lock.Module,
		billing.Module,
		providers.Module,
		invoice.Module,
		payment.Module,
	)
}

func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &nodeID); err != nil {
			return nil, fmt.Errorf("invalid SNOWFLAKE_NODE_ID %q: %w", raw, err)
		}
	}
	return snowflake.NewNode(nodeID)
}
