package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDistanceCmd creates the 'distance' subcommand.
func newDistanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distance <cep1> <cep2>",
		Short: "Prints the straight-line distance between two postal codes",
		Long: `Resolves both postal codes to an address through ViaCEP, geocodes them
through Nominatim and prints the great-circle distance in kilometres.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			client, err := appInstance.Geo()
			if err != nil {
				return err
			}
			km, err := client.Distance(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Distance between %s and %s: %.2f km\n", args[0], args[1], km)
			return nil
		},
	}
}
