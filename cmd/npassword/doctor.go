package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDoctorCmd recreates vaults missing for registered accounts.
func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check and repair account storage",
		Long: `Check every registered account for its vault file and recreate
missing vaults. Entries of a lost vault cannot be recovered; the account
becomes usable again with an empty vault.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEngine(cmd)
			if err != nil {
				return err
			}
			repaired, err := e.Repair(cmd.Context())
			out := cmd.OutOrStdout()
			for _, name := range repaired {
				fmt.Fprintf(out, "Recreated vault for '%s'\n", name)
			}
			if err != nil {
				return err
			}
			if len(repaired) == 0 {
				fmt.Fprintln(out, "All accounts have a vault")
			}
			return nil
		},
	}
}
