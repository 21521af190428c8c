package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wheelguard/internal/audit"
	"github.com/ppiankov/wheelguard/internal/config"
	"github.com/ppiankov/wheelguard/internal/faultdb"
	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/logger"
	"github.com/ppiankov/wheelguard/internal/metrics"
	"github.com/ppiankov/wheelguard/internal/model"
	"github.com/ppiankov/wheelguard/internal/monitor"
	"github.com/ppiankov/wheelguard/internal/policy"
	"github.com/ppiankov/wheelguard/internal/recorder"
	"github.com/ppiankov/wheelguard/internal/server"
)

var (
	serveListen      string
	serveMetricsAddr string
	serveAuditLog    string
	serveFaultDB     string
	serveScript      string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "gRPC listen address (overrides server.listen)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address (overrides server.metrics_addr)")
	serveCmd.Flags().StringVar(&serveAuditLog, "audit-log", "", "Path to safety log JSONL (overrides storage.audit_log)")
	serveCmd.Flags().StringVar(&serveFaultDB, "fault-db", "", "Path to fault history database (overrides storage.fault_db)")
	serveCmd.Flags().StringVar(&serveScript, "script", "", "Drive the safety loop from a scripted virtual device")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the safety interlock daemon",
	Long: "Runs the interlock with its operator API over gRPC, the safety log,\n" +
		"the fault history and optional Prometheus metrics.\n" +
		"Torque limits hot-reload when the config file changes.",
	RunE: runServe,
}

func applyServeFlags(cfg *config.Config) {
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if serveMetricsAddr != "" {
		cfg.Server.MetricsAddr = serveMetricsAddr
	}
	if serveAuditLog != "" {
		cfg.Storage.AuditLog = serveAuditLog
	}
	if serveFaultDB != "" {
		cfg.Storage.FaultDB = serveFaultDB
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, hash, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cfg)
	log := newLogger(cfg)

	// Load the script before anything starts writing to the safety log.
	var script *monitor.ScriptSource
	if serveScript != "" {
		if script, err = monitor.LoadScript(serveScript); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	il := interlock.New(cfg.Interlock, interlock.WithPolicy(policy.New(cfg.Limits)))

	auditLog, err := audit.Open(cfg.Storage.AuditLog)
	if err != nil {
		return fmt.Errorf("failed to open safety log: %w", err)
	}
	defer auditLog.Close()

	faults, err := faultdb.Open(ctx, cfg.Storage.FaultDB, log)
	if err != nil {
		return err
	}
	defer faults.Close()
	if cfg.Storage.FaultRetention > 0 {
		if _, err := faults.Prune(ctx, time.Now().Add(-cfg.Storage.FaultRetention)); err != nil {
			log.Warn("fault history prune failed", logger.Err(err))
		}
	}

	m := metrics.New()
	m.RegisterInterlock(il)

	srv := server.New(server.Config{Listen: cfg.Server.Listen}, il,
		server.WithFaultDB(faults),
		server.WithLogger(log),
		server.WithPolicyHash(hash),
	)

	rec := recorder.New(il.Events(), recorder.Options{
		Audit:      auditLog,
		Faults:     faults,
		Metrics:    m,
		Logger:     log,
		PolicyHash: srv.PolicyHash,
	})
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		rec.Run(ctx)
	}()

	startReloader(ctx, log, il, srv, hash)

	if cfg.Server.MetricsAddr != "" {
		startMetrics(ctx, log, cfg.Server.MetricsAddr, m)
	}

	if script != nil {
		sup := monitor.NewSupervisor(il, monitor.WithLogger(log))
		loop := monitor.New(cfg.Loop, sup, script, discardSink(log), monitor.WithLoopLogger(log))
		m.RegisterLoop(loop.Stats)
		go func() {
			if err := loop.Run(ctx); err != nil {
				log.Error("safety loop failed", logger.Err(err))
				il.ReportFault(model.FaultPipeline)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down wheelguard...")
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "wheelguard listening on %s\n", cfg.Server.Listen)
	fmt.Fprintf(os.Stderr, "Safety log: %s\n", cfg.Storage.AuditLog)
	if cfg.Server.MetricsAddr != "" {
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", cfg.Server.MetricsAddr)
	}
	fmt.Fprintln(os.Stderr)

	err = srv.Serve()
	stop()
	<-recDone
	return err
}

// startReloader re-applies torque limits when the config file changes.
func startReloader(ctx context.Context, log *slog.Logger, il *interlock.Interlock, srv *server.Server, hash string) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	reloader, err := config.NewReloader(path, hash, func(cfg *config.Config, hash string) {
		il.SetPolicy(policy.New(cfg.Limits))
		srv.SetPolicyHash(hash)
	}, config.WithReloadLogger(log))
	if err != nil {
		log.Warn("hot-reload disabled", logger.Err(err))
		return
	}
	go reloader.Run(ctx)
}

func startMetrics(ctx context.Context, log *slog.Logger, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logger.Err(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hs.Shutdown(shutdownCtx)
	}()
}

// discardSink stands in for a wheelbase output when the loop is driven by
// a script.
func discardSink(log *slog.Logger) monitor.Sink {
	return monitor.SinkFunc(func(deviceID string, torque model.TorqueNm) error {
		log.Debug("torque command", "device", deviceID, "nm", float64(torque))
		return nil
	})
}
