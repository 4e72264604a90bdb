package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lyzr/flowdeploy/cmd/deployer/container"
	"github.com/lyzr/flowdeploy/cmd/deployer/routes"
	"github.com/lyzr/flowdeploy/common/bootstrap"
	"github.com/lyzr/flowdeploy/common/historydb"
	"github.com/lyzr/flowdeploy/common/server"
	"github.com/spf13/cobra"
)

const serviceName = "flowdeploy"

var configPath string

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Promote flows between environments and roll them back",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			os.Setenv("FLOWDEPLOY_CONFIG", configPath)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deployer HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the history tables and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return migrate(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to flowdeploy.toml (overrides FLOWDEPLOY_CONFIG)")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	// Bootstrap common components (stores, history, logger, cache, telemetry)
	components, err := bootstrap.Setup(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		return fmt.Errorf("failed to initialize service container: %w", err)
	}

	e := routes.NewEcho(serviceContainer)

	port := components.Config.Service.Port
	components.Logger.Info("Starting deployer", "port", port)

	return server.New(serviceName, port, e, server.Options{}, components.Logger).Run(ctx)
}

func migrate(ctx context.Context) error {
	components, err := bootstrap.Setup(ctx, serviceName,
		bootstrap.WithoutCache(),
		bootstrap.WithoutTelemetry(),
	)
	if err != nil {
		return fmt.Errorf("failed to bootstrap: %w", err)
	}
	defer components.Shutdown(ctx)

	if err := historydb.Migrate(ctx, components.History); err != nil {
		return err
	}

	components.Logger.Info("history store migrated", "path", components.Config.History.Path)
	return nil
}
