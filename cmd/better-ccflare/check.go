package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombii/better-ccflare/internal/di"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and wiring",
	Long: `Load and validate the configuration, build the full service graph,
and report the registered providers and cache backend. Exits non-zero
if any part of the graph fails to construct.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	path := configPath()
	container, err := di.NewContainer(path)
	if err != nil {
		return fmt.Errorf("container setup failed: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.ShutdownWithContext(ctx)
	}()

	cfgSvc, err := di.Invoke[*di.ConfigService](container)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg := cfgSvc.Get()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	regSvc, err := di.Invoke[*di.RegistryService](container)
	if err != nil {
		return fmt.Errorf("provider registry: %w", err)
	}
	if _, err := di.Invoke[*di.CacheService](container); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if _, err := di.Invoke[*di.DispatcherService](container); err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	out := cmd.OutOrStdout()
	if path == "" {
		fmt.Fprintln(out, "config: built-in defaults (no config file found)")
	} else {
		fmt.Fprintf(out, "config: %s\n", path)
	}

	names := regSvc.Registry.Names()
	fmt.Fprintf(out, "providers (%d):\n", len(names))
	for _, name := range names {
		fmt.Fprintf(out, "  - %s\n", name)
	}
	fmt.Fprintf(out, "cache: %s\n", cfg.Cache.Mode)
	fmt.Fprintln(out, "ok")

	return nil
}
