package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/hubcap/pkg/host"
	"github.com/platinummonkey/hubcap/pkg/isolation"
	"github.com/platinummonkey/hubcap/pkg/observability"
	"github.com/platinummonkey/hubcap/pkg/repository"
	"github.com/platinummonkey/hubcap/pkg/settings"
)

func newInspectCommand() *Command {
	cmd := &Command{
		Name:        "inspect",
		Description: "Inspect the module files of a directory in isolated worker processes",
		Flags:       flag.NewFlagSet("inspect", flag.ContinueOnError),
		Run:         runInspect,
	}

	cmd.Flags.Duration("timeout", isolation.DefaultTimeout, "Per-module inspection timeout")
	cmd.Flags.Int("parallelism", 0, "Modules inspected concurrently (0 for the number of CPUs)")
	cmd.Flags.String("format", formatTable, "Output format (table or json)")
	cmd.Flags.Bool("strict", false, "Fail when any module or type could not be inspected")
	cmd.Flags.String("log-level", "warn", "Log level")

	return cmd
}

func runInspect(args []string) error {
	cmd := newInspectCommand()
	cmd.Flags.SetOutput(stderr)
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	timeout := cmd.Flags.Lookup("timeout").Value.(flag.Getter).Get().(time.Duration)
	parallelism := cmd.Flags.Lookup("parallelism").Value.(flag.Getter).Get().(int)
	format := cmd.Flags.Lookup("format").Value.String()
	strict := cmd.Flags.Lookup("strict").Value.String() == "true"
	level := cmd.Flags.Lookup("log-level").Value.String()

	if cmd.Flags.NArg() != 1 {
		return errors.New("exactly one directory is required")
	}
	if err := checkFormat(format); err != nil {
		return err
	}

	log := observability.NewLogger(level, "text", stderr)
	repo := repository.NewDirectory(repository.Options{
		Host:        host.New(host.WithLogger(log)),
		Logger:      log,
		Timeout:     timeout,
		Parallelism: parallelism,
	})

	ctx := context.Background()
	if err := repo.Initialize(ctx, settings.New(repository.SettingPath, cmd.Flags.Arg(0))); err != nil {
		return err
	}
	if err := repo.Inspect(ctx); err != nil {
		return err
	}

	gen := repo.Generation()
	if format == formatJSON {
		if err := writeJSON(gen); err != nil {
			return err
		}
	} else {
		if err := printRecords(gen.Records); err != nil {
			return err
		}
		if err := printProblems(gen); err != nil {
			return err
		}
	}

	if strict && (len(gen.Failures) > 0 || len(gen.Skipped) > 0) {
		return fmt.Errorf("%d modules failed and %d types were skipped", len(gen.Failures), len(gen.Skipped))
	}
	return nil
}
