package cli

import (
	"flag"
	"fmt"

	"github.com/platinummonkey/hubcap/pkg/repository"
)

func newKindsCommand() *Command {
	return &Command{
		Name:        "kinds",
		Description: "Print the registered repository kinds",
		Flags:       flag.NewFlagSet("kinds", flag.ContinueOnError),
		Run:         runKinds,
	}
}

func runKinds(args []string) error {
	for _, kind := range repository.Kinds() {
		fmt.Fprintln(stdout, kind)
	}
	return nil
}
