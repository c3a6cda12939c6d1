package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/ent0n29/ridewallet/internal/tools"
	"github.com/ent0n29/ridewallet/internal/wallet"
)

func newToolsCmd() *cobra.Command {
	var providers []string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool definitions exposed to the conversational model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tools.DefinitionsFor(wallet.NewProviderSet(providers)))
		},
	}
	cmd.Flags().StringSliceVar(&providers, "providers", []string{"DDOT", "SMART", "Regional"}, "known transit providers")
	return cmd
}
