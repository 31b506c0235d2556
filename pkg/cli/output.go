package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/repository"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func checkFormat(format string) error {
	switch format {
	case formatTable, formatJSON:
		return nil
	default:
		return fmt.Errorf("unknown format %q (want %s or %s)", format, formatTable, formatJSON)
	}
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecords(records []capability.Record) error {
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTYPE\tCAPABILITY\tMETADATA")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.Source, rec.Type, rec.Capability, formatMetadata(rec.Metadata))
	}
	return tw.Flush()
}

func printProblems(gen *repository.Generation) error {
	if len(gen.Skipped) == 0 && len(gen.Failures) == 0 {
		return nil
	}
	fmt.Fprintln(stdout)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tPROBLEM\tDETAIL")
	for _, s := range gen.Skipped {
		name := s.Type
		if name == "" {
			name = fmt.Sprintf("#%d", s.Index)
		}
		fmt.Fprintf(tw, "%s\tskipped %s\t%s\n", s.Source, name, s.Reason)
	}
	for _, f := range gen.Failures {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Source, f.Reason, f.Error)
	}
	return tw.Flush()
}

func formatMetadata(md capability.Metadata) string {
	if len(md) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(md))
	for _, k := range md.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%v", k, md[k]))
	}
	return strings.Join(parts, ",")
}
