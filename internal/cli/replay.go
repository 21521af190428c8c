package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wheelguard/internal/audit"
)

var (
	replayLog    string
	replayDevice string
	replayEvents []string
	replayFrom   string
	replayTo     string
	replayFormat string
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayLog, "log", "l", "", "Path to safety log (default storage.audit_log)")
	replayCmd.Flags().StringVar(&replayDevice, "device", "", "Only show events for this device")
	replayCmd.Flags().StringSliceVar(&replayEvents, "event", nil, "Only show these event types (repeatable)")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay the safety log as a timeline",
	Long:  "Reads the safety log, filters by device, event type and time range,\nand renders a timeline of transitions and faults with a summary.",
	Args:  cobra.NoArgs,
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{DeviceID: replayDevice, Events: replayEvents}

	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		filter.From = from
	}
	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		filter.To = to
	}

	path := replayLog
	if path == "" {
		var err error
		if path, err = auditPath(nil); err != nil {
			return err
		}
	}

	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch replayFormat {
	case "json":
		s, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
	default:
		fmt.Fprint(out, audit.FormatTimeline(result))
	}
	return nil
}
