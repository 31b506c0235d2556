package main

import (
	"fmt"
	"os"

	"github.com/platinummonkey/hubcap/pkg/cli"
	"github.com/platinummonkey/hubcap/pkg/isolation"
)

func main() {
	// Inspection workers re-execute this binary; they stop here.
	if isolation.Init() {
		return
	}

	rootCmd := cli.NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
