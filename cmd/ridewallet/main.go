package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ridewallet: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ridewallet",
		Short:         "Ride wallet agent worker: transit pass tools for a voice agent",
		Long:          "ridewallet serves the tool-dispatch and purchase-decision layer a conversational runtime uses to list passes, check wallet balances and buy passes for a rider.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newStartCmd(), newToolsCmd())
	return rootCmd
}
