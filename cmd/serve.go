package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/protolith/excavate/internal/config"
	"github.com/protolith/excavate/internal/observability"
	"github.com/protolith/excavate/internal/service"
)

// factory is swapped by tests to avoid constructing real provider clients.
var factory = service.NewComponentFactory()

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the excavation turn server.",
	Long: `Starts the HTTP server exposing the turn endpoint. The service is
stateless: each request carries the full excavation state, so instances can
be scaled or restarted freely between turns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg config.Interface) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	if err := components.Server.Run(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
