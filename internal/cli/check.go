package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wheelguard/internal/config"
)

var checkFormat string

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkFormat, "format", "f", "text", "Output format (text|json)")
}

var checkCmd = &cobra.Command{
	Use:   "check [config-path]",
	Short: "Validate a config file and show the effective limits",
	Long: "Validates the config against the schema and the limit rules, then\n" +
		"prints the torque ceilings and timings that serve would apply.\n" +
		"Use in CI before shipping a config to a rig.",
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	cfg, hash, err := config.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if checkFormat == "json" {
		data, err := json.MarshalIndent(map[string]any{"hash": hash, "config": cfg}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	l, il := cfg.Limits, cfg.Interlock
	fmt.Fprintf(out, "OK: %s\n\n", hash)
	fmt.Fprintf(out, "Safe torque:        %.1f Nm\n", float64(l.SafeTorqueNm))
	fmt.Fprintf(out, "High torque:        %.1f Nm\n", float64(l.HighTorqueNm))
	fmt.Fprintf(out, "Temperature gate:   %d °C\n", l.MaxTemperatureC)
	fmt.Fprintf(out, "Hands-off gate:     %s\n", l.MaxHandsOff)
	fmt.Fprintf(out, "Hands-off timeout:  %s\n", il.HandsOffTimeout)
	fmt.Fprintf(out, "Combo hold:         %s\n", il.ComboHoldDuration)
	fmt.Fprintf(out, "Fault dwell:        %s\n", il.MinFaultDwell)
	fmt.Fprintf(out, "Loop:               %s, stall after %d missed polls\n", cfg.Loop.TickInterval, cfg.Loop.StallTicks)
	return nil
}
