package main

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the gateway CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wagateway",
		Short: "WhatsApp Web session gateway",
		Long:  "Manages a single WhatsApp Web session and exposes it over HTTP.",
	}

	cmd.AddCommand(NewServeCommand())
	return cmd
}
