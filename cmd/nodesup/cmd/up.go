package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jrepp/nodesup/cmd/nodesup/internal/ui"
	"github.com/jrepp/nodesup/pkg/cluster"
	"github.com/jrepp/nodesup/pkg/launcher"
	"github.com/jrepp/nodesup/pkg/observability"
	"github.com/jrepp/nodesup/pkg/watchdog"
)

var (
	upManifest string
	upReap     bool
	upDetach   bool
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a cluster and supervise it until interrupted",
	Long: `Start every node of a cluster manifest, wait until each one is live or
dead, push switch configuration to the controller and keep supervising the
nodes until SIGINT or SIGTERM. Interrupting during startup aborts every
pending wait.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringVarP(&upManifest, "file", "f", "cluster.yaml", "cluster manifest")
	upCmd.Flags().BoolVar(&upReap, "reap", true, "terminate node processes left by earlier runs")
	upCmd.Flags().BoolVar(&upDetach, "exit-after-start", false, "stop the cluster once it has started")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	manifest, err := cluster.LoadManifest(upManifest)
	if err != nil {
		return err
	}
	specs, err := manifest.Specs()
	if err != nil {
		return err
	}

	ccfg := cfg.ClusterConfig()
	if manifest.Name != "" {
		ccfg.Name = manifest.Name
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := cluster.NewPrometheusMetricsCollectorWithRegistry("nodesup", reg)
	wdMetrics := watchdog.NewPrometheusMetricsCollectorWithRegistry("nodesup", reg)

	opts := []cluster.Option{
		cluster.WithLogger(logger),
		cluster.WithMetricsCollector(metrics),
		cluster.WithWatchdogMetrics(wdMetrics),
		cluster.WithAbortContext(sigCtx),
	}
	if n := manifest.CommandNetwork(); n != nil {
		opts = append(opts, cluster.WithNetwork(n))
	}
	if len(manifest.Forwards) > 0 {
		opts = append(opts, cluster.WithPortForwarder(&cluster.IPTablesForwarder{}))
	}
	sup := cluster.New(ccfg, opts...)

	obs := observability.New(&observability.Config{
		ServiceName:    "nodesup",
		ServiceVersion: rootCmd.Version,
		MetricsAddr:    metricsAddr(cfg.Metrics.Port),
		EnableTracing:  cfg.Tracing.Enabled,
		TraceExporter:  cfg.Tracing.Exporter,
	},
		observability.WithGatherer(reg),
		observability.WithReadiness(func() bool { return allLive(sup.Nodes()) }),
		observability.WithLogger(logger))
	if err := obs.Initialize(cmd.Context()); err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	if upReap {
		n, err := launcher.NewStaleReaper(ccfg.GracePeriod, logger).Reap(sigCtx, sup.RunID())
		if err != nil {
			uiInstance.Warning(fmt.Sprintf("stale process cleanup failed: %v", err))
		} else if n > 0 {
			uiInstance.Info(fmt.Sprintf("terminated %d node processes from earlier runs", n))
		}
	}

	uiInstance.Info(fmt.Sprintf("starting %d nodes (run %s)", len(specs), sup.RunID()))
	report, startErr := sup.Start(sigCtx, specs...)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), ccfg.GracePeriod+30*time.Second)
		defer cancel()
		if err := sup.Stop(ctx); err != nil {
			uiInstance.Error(fmt.Sprintf("stop: %v", err))
			return
		}
		uiInstance.Success("cluster stopped")
	}()

	if report == nil {
		return startErr
	}
	printReport(uiInstance, report)

	for _, f := range manifest.Forwards {
		if err := sup.Forward(sigCtx, f); err != nil {
			uiInstance.Warning(fmt.Sprintf("forward %d to %s/%s: %v", f.HostPort, f.Node, f.Port, err))
		}
	}

	if report.Aborted || upDetach {
		return startErr
	}
	if len(report.Failed()) == len(report.Nodes) {
		return startErr
	}

	uiInstance.Info("supervising; press Ctrl-C to stop")
	<-sigCtx.Done()
	return nil
}

func printReport(u *ui.UI, report *cluster.Report) {
	table := u.NewTable("NODE", "KIND", "TARGET", "STATE", "PID", "PORTS", "LOG")
	for _, n := range report.Nodes {
		pid := "-"
		if n.PID > 0 {
			pid = strconv.Itoa(n.PID)
		}
		table.AddRow(n.Name, n.Kind.String(), string(n.Target), ui.State(n.State.String()), pid, formatPorts(n.Ports), n.LogPath)
	}
	table.Render()

	for _, n := range report.Failed() {
		u.Error(fmt.Sprintf("%s: %v", n.Name, n.Err))
		u.Tail(n.LogTail)
	}
	for _, n := range report.Nodes {
		if n.NetcfgErr != nil {
			u.Warning(fmt.Sprintf("%s: netcfg push failed: %v", n.Name, n.NetcfgErr))
		}
	}

	elapsed := report.Elapsed.Round(time.Millisecond)
	switch {
	case report.Aborted:
		u.Warning(fmt.Sprintf("startup aborted after %s", elapsed))
	case report.OK():
		u.Success(fmt.Sprintf("%d nodes live in %s", len(report.Nodes), elapsed))
	default:
		u.Warning(fmt.Sprintf("%d of %d nodes failed in %s", len(report.Failed()), len(report.Nodes), elapsed))
	}
}

func formatPorts(ports map[string]int) string {
	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, ports[name])
	}
	return strings.Join(parts, ",")
}

func allLive(nodes []cluster.NodeStatus) bool {
	if len(nodes) == 0 {
		return false
	}
	for _, n := range nodes {
		if n.State != watchdog.StateLive {
			return false
		}
	}
	return true
}

func metricsAddr(port int) string {
	if port <= 0 {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}
