package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(consentCmd)
}

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Show what the operator must acknowledge before high torque",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		info, err := c.ConsentRequirements()
		if err != nil {
			return fmt.Errorf("consent requirements: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "High torque ceiling: %.1f Nm\n\n", float64(info.MaxTorqueNm))
		fmt.Fprintln(out, "Warnings:")
		for _, w := range info.Warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
		fmt.Fprintln(out, "\nBy continuing you accept:")
		for _, d := range info.Disclaimers {
			fmt.Fprintf(out, "  - %s\n", d)
		}
		return nil
	},
}
