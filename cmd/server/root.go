package main

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic-gateway",
		Short: "Voice dictation into clinical visit forms",
		Long: `clinic-gateway serves the visit and form API, the dictation websocket and
the structured extraction endpoint used to fill clinical forms from speech.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newExtractCommand())

	return cmd
}
