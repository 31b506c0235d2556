package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/platinummonkey/hubcap/pkg/config"
	"github.com/platinummonkey/hubcap/pkg/observability"
)

func newRefreshCommand() *Command {
	cmd := &Command{
		Name:        "refresh",
		Description: "Ask every serving replica to re-inspect its repositories (requires redis)",
		Flags:       flag.NewFlagSet("refresh", flag.ContinueOnError),
		Run:         runRefresh,
	}

	cmd.Flags.String("config", "", "Configuration file (HUBCAP_* variables apply on top)")

	return cmd
}

func runRefresh(args []string) error {
	cmd := newRefreshCommand()
	cmd.Flags.SetOutput(stderr)
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(cmd.Flags.Lookup("config").Value.String())
	if err != nil {
		return err
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis is not configured")
	}
	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)

	ctx := context.Background()
	publisher, err := openPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	if err := publisher.RequestRefresh(ctx); err != nil {
		return fmt.Errorf("failed to request refresh: %w", err)
	}
	fmt.Fprintf(stdout, "Refresh requested on %s\n", publisher.RefreshChannel())
	return nil
}
