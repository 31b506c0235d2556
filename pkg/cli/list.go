package cli

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/config"
	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/plugins"
	"github.com/platinummonkey/hubcap/pkg/repository"
)

func newListCommand() *Command {
	cmd := &Command{
		Name:        "list",
		Description: "Build a registry from a configuration file and print its records",
		Flags:       flag.NewFlagSet("list", flag.ContinueOnError),
		Run:         runList,
	}

	cmd.Flags.String("config", "", "Configuration file (HUBCAP_* variables apply on top)")
	cmd.Flags.String("capability", "", "Only print records of this capability")
	cmd.Flags.String("format", formatTable, "Output format (table or json)")

	return cmd
}

func runList(args []string) error {
	cmd := newListCommand()
	cmd.Flags.SetOutput(stderr)
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	configPath := cmd.Flags.Lookup("config").Value.String()
	capabilityID := capability.ID(cmd.Flags.Lookup("capability").Value.String())
	format := cmd.Flags.Lookup("format").Value.String()
	if err := checkFormat(format); err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)

	ctx := context.Background()
	in, err := openIntegrations(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer in.Close()

	// Repositories that fail are logged by the registry; the rest are still listed.
	reg, _ := newRegistry(ctx, cfg, log, nil, in.observers()...)

	records := []capability.Record{}
	for _, rec := range reg.Records() {
		if capabilityID == "" || rec.Capability == capabilityID {
			records = append(records, rec)
		}
	}

	if format == formatJSON {
		return writeJSON(records)
	}
	return printRecords(records)
}

func newRegistry(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, metrics *observability.Metrics, observers ...repository.Observer) (*plugins.Registry, error) {
	return plugins.NewRegistry(ctx, cfg.Repositories,
		plugins.WithLogger(log),
		plugins.WithMetrics(metrics),
		plugins.WithInspection(cfg.Inspection.Timeout, cfg.Inspection.TeardownTimeout, cfg.Inspection.Parallelism),
		plugins.WithObservers(observers...),
	)
}
