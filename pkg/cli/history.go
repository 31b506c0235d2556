package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/platinummonkey/hubcap/pkg/audit"
	"github.com/platinummonkey/hubcap/pkg/config"
	"github.com/platinummonkey/hubcap/pkg/observability"
)

func newHistoryCommand() *Command {
	cmd := &Command{
		Name:        "history",
		Description: "Print recorded inspections, newest first",
		Flags:       flag.NewFlagSet("history", flag.ContinueOnError),
		Run:         runHistory,
	}

	cmd.Flags.String("config", "", "Configuration file (HUBCAP_* variables apply on top)")
	cmd.Flags.String("kind", "", "Only print inspections of this repository kind")
	cmd.Flags.String("source", "", "Only print inspections of this source")
	cmd.Flags.String("status", "", "Only print inspections with this status (success or failure)")
	cmd.Flags.Duration("since", 0, "Only print inspections newer than this")
	cmd.Flags.Int("limit", audit.DefaultLimit, "Maximum number of inspections")
	cmd.Flags.String("format", formatTable, "Output format (table or json)")

	return cmd
}

func runHistory(args []string) error {
	cmd := newHistoryCommand()
	cmd.Flags.SetOutput(stderr)
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	format := cmd.Flags.Lookup("format").Value.String()
	if err := checkFormat(format); err != nil {
		return err
	}
	filter := audit.Filter{
		Kind:   cmd.Flags.Lookup("kind").Value.String(),
		Source: cmd.Flags.Lookup("source").Value.String(),
		Status: audit.Status(cmd.Flags.Lookup("status").Value.String()),
		Limit:  cmd.Flags.Lookup("limit").Value.(flag.Getter).Get().(int),
	}
	if since := cmd.Flags.Lookup("since").Value.(flag.Getter).Get().(time.Duration); since > 0 {
		t := time.Now().Add(-since)
		filter.Since = &t
	}

	cfg, err := config.Load(cmd.Flags.Lookup("config").Value.String())
	if err != nil {
		return err
	}
	if cfg.History.Driver == "" {
		return errors.New("history is not configured")
	}
	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)

	ctx := context.Background()
	store, err := audit.Open(ctx, cfg.History.Driver, cfg.History.DSN, log)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Search(ctx, filter)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return writeJSON(entries)
	}
	return printHistory(entries)
}

func printHistory(entries []*audit.Entry) error {
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tINSPECTED\tKIND\tSOURCE\tSTATUS\tRECORDS\tDURATION\tERROR")
	for _, e := range entries {
		msg := e.Error
		if msg == "" {
			msg = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID, e.InspectedAt.Format(time.RFC3339), e.Kind, e.Source, e.Status, e.Records, e.Duration, msg)
	}
	return tw.Flush()
}
