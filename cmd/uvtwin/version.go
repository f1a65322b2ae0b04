package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/uvtwin/telemetry-sim/internal/model"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "uvtwin version %s (schema %s)\n", version, model.SchemaVersion)
		},
	}
}
