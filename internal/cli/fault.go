package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wheelguard/internal/faultdb"
	"github.com/ppiankov/wheelguard/internal/model"
)

var (
	faultDevice    string
	faultListLimit int
	faultListDB    string
)

func init() {
	rootCmd.AddCommand(faultCmd)
	faultCmd.AddCommand(faultReportCmd, faultClearCmd, faultListCmd)
	faultReportCmd.Flags().StringVar(&faultDevice, "device", "", "Device the fault belongs to (default all devices)")
	faultListCmd.Flags().StringVar(&faultDevice, "device", "", "Only show faults for this device")
	faultListCmd.Flags().IntVarP(&faultListLimit, "lines", "n", 20, "Number of recent faults to show")
	faultListCmd.Flags().StringVar(&faultListDB, "db", "", "Read a fault history database directly instead of asking the daemon")
}

var faultCmd = &cobra.Command{
	Use:   "fault",
	Short: "Report, clear and list faults",
}

var faultReportCmd = &cobra.Command{
	Use:   "report <fault-type>",
	Short: "Report a fault to a running daemon",
	Long: "Forces the interlock into Faulted. Torque drops to zero immediately.\n" +
		"Fault types: " + faultTypeList(),
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fault, err := model.ParseFaultType(args[0])
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.ReportFault(fault, faultDevice)
		if err != nil {
			return fmt.Errorf("report fault: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fault %s reported. State: %s\n", fault, reply.Detail)
		return nil
	},
}

var faultClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the active fault",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.ClearFault()
		if err != nil {
			return fmt.Errorf("clear fault: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fault cleared. State: %s\n", reply.Detail)
		return nil
	},
}

var faultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the stored fault history",
	Args:  cobra.NoArgs,
	RunE:  runFaultList,
}

func runFaultList(cmd *cobra.Command, args []string) error {
	var (
		records []faultdb.Record
		err     error
	)
	if faultListDB != "" {
		records, err = readFaultDB(cmd.Context(), faultListDB, faultDevice, faultListLimit)
	} else {
		c, dialErr := dial()
		if dialErr != nil {
			return dialErr
		}
		defer c.Close()
		records, err = c.ListFaults(faultDevice, faultListLimit)
	}
	if err != nil {
		return fmt.Errorf("list faults: %w", err)
	}

	printFaults(cmd.OutOrStdout(), records)
	return nil
}

func readFaultDB(ctx context.Context, path, deviceID string, limit int) ([]faultdb.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := faultdb.Open(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Recent(ctx, deviceID, limit)
}

func printFaults(out io.Writer, records []faultdb.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No faults recorded.")
		return
	}
	fmt.Fprintf(out, "%-20s %-16s %-28s %-8s %s\n", "TIME", "DEVICE", "FAULT", "CRITICAL", "DETAIL")
	for _, r := range records {
		device := r.DeviceID
		if device == "" {
			device = "-"
		}
		fmt.Fprintf(out, "%-20s %-16s %-28s %-8t %s\n",
			r.At.Local().Format("2006-01-02 15:04:05"),
			truncate(device, 16),
			r.Fault,
			r.Critical,
			truncate(r.Detail, 40),
		)
	}
}

func faultTypeList() string {
	s := ""
	for i, f := range model.AllFaultTypes {
		if i > 0 {
			s += ", "
		}
		s += string(f)
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
