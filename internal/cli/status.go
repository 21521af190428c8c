package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wheelguard/internal/client"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the raw status as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the interlock state of a running daemon",
	Long:  "Shows the safety state, the torque ceilings, the pending challenge,\nthe devices holding high-torque authorization and the fault counters.",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func dial() (*client.Client, error) {
	return client.New(daemonAddr)
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Status()
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	printStatus(out, st)
	return nil
}

func printStatus(out io.Writer, st client.Status) {
	fmt.Fprintf(out, "State:    %s\n", st.Detail)
	fmt.Fprintf(out, "Ceiling:  %.1f Nm (safe %.1f, high %.1f)\n",
		float64(st.LimitNm), float64(st.SafeNm), float64(st.HighNm))
	if st.PolicyHash != "" {
		fmt.Fprintf(out, "Config:   %s\n", st.PolicyHash)
	}

	if ch := st.Challenge; ch != nil {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Challenge %d for %s: consent=%t combo=%t, %.1fs left\n",
			ch.Token, ch.DeviceID, ch.ConsentGiven, ch.ComboStarted, float64(ch.RemainingMs)/1000)
	}

	if len(st.Tokens) > 0 {
		ids := make([]string, 0, len(st.Tokens))
		for id := range st.Tokens {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "%-20s %s\n", "DEVICE", "ACTIVATED")
		for _, id := range ids {
			fmt.Fprintf(out, "%-20s %s\n", id, st.Tokens[id].ActivatedAt.Local().Format("15:04:05"))
		}
	}

	if len(st.FaultCounts) > 0 {
		faults := make([]string, 0, len(st.FaultCounts))
		for f := range st.FaultCounts {
			faults = append(faults, f)
		}
		sort.Strings(faults)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Faults since start:")
		for _, f := range faults {
			fmt.Fprintf(out, "  %-28s %d\n", f, st.FaultCounts[f])
		}
	}
	if st.DroppedEvents > 0 {
		fmt.Fprintf(out, "\nwarning: %d events dropped\n", st.DroppedEvents)
	}
}
