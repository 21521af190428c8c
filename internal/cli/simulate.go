package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wheelguard/internal/audit"
	"github.com/ppiankov/wheelguard/internal/clock"
	"github.com/ppiankov/wheelguard/internal/config"
	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/model"
	"github.com/ppiankov/wheelguard/internal/monitor"
	"github.com/ppiankov/wheelguard/internal/policy"
	"github.com/ppiankov/wheelguard/internal/recorder"
)

var (
	simScript   string
	simRequest  string
	simAuditLog string
	simFormat   string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simScript, "script", "", "Path to telemetry script YAML (required)")
	simulateCmd.Flags().StringVar(&simRequest, "request", "", "Issue and consent a high-torque challenge for this device before the first tick")
	simulateCmd.Flags().StringVar(&simAuditLog, "audit-log", "", "Write the safety log of the run to this path")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
	simulateCmd.MarkFlagRequired("script")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a telemetry script through the safety loop",
	Long: "Runs a scripted virtual device through the interlock on a simulated\n" +
		"clock, one frame per tick, and reports the final state, the peak torque\n" +
		"each device received and every fault raised.\n\n" +
		"With --request, clutches held in the script confirm the challenge.",
	RunE: runSimulate,
}

// SimResult summarizes a simulation run.
type SimResult struct {
	Script        string                     `json:"script"`
	Duration      time.Duration              `json:"duration"`
	Stats         monitor.Stats              `json:"stats"`
	FinalState    string                     `json:"final_state"`
	Peaks         map[string]model.TorqueNm  `json:"peak_torque_nm"`
	Faults        map[model.FaultType]uint32 `json:"faults"`
	Events        uint64                     `json:"events"`
	DroppedEvents uint64                     `json:"dropped_events"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	src, err := monitor.LoadScript(simScript)
	if err != nil {
		return err
	}

	result, err := simulate(cfg, src, simRequest, simAuditLog)
	if err != nil {
		return err
	}
	result.Script = simScript

	out := cmd.OutOrStdout()
	switch simFormat {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
	default:
		fmt.Fprint(out, formatSimResult(result))
	}
	return nil
}

func simulate(cfg *config.Config, src monitor.Source, requestDevice, auditPath string) (*SimResult, error) {
	log := newLogger(cfg)
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	start := fc.Now()

	il := interlock.New(cfg.Interlock,
		interlock.WithClock(fc),
		interlock.WithPolicy(policy.New(cfg.Limits)),
	)

	opts := recorder.Options{Logger: log}
	if auditPath != "" {
		al, err := audit.Open(auditPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open safety log: %w", err)
		}
		defer al.Close()
		opts.Audit = al
	}
	rec := recorder.New(il.Events(), opts)
	ctx, cancel := context.WithCancel(context.Background())
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		rec.Run(ctx)
	}()

	if requestDevice != "" {
		c, err := il.RequestHighTorque(requestDevice)
		if err != nil {
			cancel()
			<-recDone
			return nil, fmt.Errorf("request high torque: %w", err)
		}
		if err := il.ProvideUIConsent(c.Token); err != nil {
			cancel()
			<-recDone
			return nil, fmt.Errorf("provide consent: %w", err)
		}
	}

	sup := monitor.NewSupervisor(il, monitor.WithLogger(log))
	sink := &monitor.RecordingSink{}
	loop := monitor.New(cfg.Loop, sup, src, sink,
		monitor.WithClock(fc),
		monitor.WithLoopLogger(log),
	)
	runErr := loop.Replay(fc.Advance)

	cancel()
	<-recDone
	if runErr != nil {
		return nil, runErr
	}

	peaks := make(map[string]model.TorqueNm)
	for _, o := range sink.Outputs() {
		if _, ok := peaks[o.DeviceID]; !ok {
			peaks[o.DeviceID] = sink.Peak(o.DeviceID)
		}
	}

	return &SimResult{
		Duration:      fc.Now().Sub(start),
		Stats:         loop.Stats(),
		FinalState:    il.State().String(),
		Peaks:         peaks,
		Faults:        il.FaultCounts(),
		Events:        rec.Handled(),
		DroppedEvents: il.DroppedEvents(),
	}, nil
}

func formatSimResult(r *SimResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Simulated %s (%d ticks, %d frames, %d clamped)\n",
		r.Duration, r.Stats.Ticks, r.Stats.Frames, r.Stats.Clamped)
	fmt.Fprintf(&b, "Final state: %s\n", r.FinalState)

	devices := make([]string, 0, len(r.Peaks))
	for id := range r.Peaks {
		devices = append(devices, id)
	}
	sort.Strings(devices)
	if len(devices) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "%-20s %s\n", "DEVICE", "PEAK NM")
		for _, id := range devices {
			fmt.Fprintf(&b, "%-20s %.2f\n", id, float64(r.Peaks[id]))
		}
	}

	if len(r.Faults) > 0 {
		faults := make([]string, 0, len(r.Faults))
		for f := range r.Faults {
			faults = append(faults, string(f))
		}
		sort.Strings(faults)
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Faults:")
		for _, f := range faults {
			fmt.Fprintf(&b, "  %-28s %d\n", f, r.Faults[model.FaultType(f)])
		}
	}

	fmt.Fprintf(&b, "\nEvents: %d recorded, %d dropped\n", r.Events, r.DroppedEvents)
	return b.String()
}
