package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/huginnscan/huginn/internal/config"
	"github.com/huginnscan/huginn/internal/engine"
	"github.com/huginnscan/huginn/internal/logging"
	"github.com/huginnscan/huginn/internal/metrics"
	"github.com/huginnscan/huginn/internal/output"
)

var scanFlags struct {
	targets      []string
	exclusions   []string
	probeTypes   []string
	ports        string
	concurrency  int
	timeout      time.Duration
	retries      int
	rate         float64
	burst        int
	grace        time.Duration
	banner       bool
	lenient      bool
	format       string
	outFile      string
	noProgress   bool
	enableMetric bool
}

var scanCmd = &cobra.Command{
	Use:   "scan [targets...]",
	Short: "Probe targets with the configured probe types",
	Long: `Scan expands the given targets (IP literals, [hostnames], A-B ranges,
and CIDR blocks), dispatches every requested probe against every
expanded address, and renders the aggregated outcome.

Examples:
  huginn scan 192.168.1.0/24
  huginn scan --probes tcp_connect --ports 1-1024 10.0.0.1-10.0.0.50
  huginn scan --probes ping,udp --output json '[router.local]'`,
	Args: cobra.ArbitraryArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringSliceVarP(&scanFlags.targets, "targets", "t", nil, "targets to scan (alternative to positional args)")
	scanCmd.Flags().StringSliceVarP(&scanFlags.exclusions, "exclude", "x", nil, "addresses or CIDR blocks to skip")
	scanCmd.Flags().StringSliceVar(&scanFlags.probeTypes, "probes", nil, "probe types to run (ping, tcp_connect, tcp_syn, udp)")
	scanCmd.Flags().StringVarP(&scanFlags.ports, "ports", "p", "", "ports for port-level probes (e.g. 22,80,8000-8100)")
	scanCmd.Flags().IntVarP(&scanFlags.concurrency, "concurrency", "c", 0, "max simultaneous probe requests")
	scanCmd.Flags().DurationVar(&scanFlags.timeout, "timeout", 0, "per-request probe timeout")
	scanCmd.Flags().IntVar(&scanFlags.retries, "retries", -1, "retries for transient network failures")
	scanCmd.Flags().Float64Var(&scanFlags.rate, "rate", -1, "outbound operations per second (0 = unlimited)")
	scanCmd.Flags().IntVar(&scanFlags.burst, "burst", 0, "rate limiter burst size")
	scanCmd.Flags().DurationVar(&scanFlags.grace, "grace", 0, "drain window for in-flight probes on cancellation")
	scanCmd.Flags().BoolVar(&scanFlags.banner, "banner", false, "read service banners after successful TCP connects")
	scanCmd.Flags().BoolVar(&scanFlags.lenient, "lenient", false, "skip malformed targets instead of aborting")
	scanCmd.Flags().StringVarP(&scanFlags.format, "output", "o", "text", "output format (text, json, csv)")
	scanCmd.Flags().StringVarP(&scanFlags.outFile, "file", "f", "", "write results to a file instead of stdout")
	scanCmd.Flags().BoolVar(&scanFlags.noProgress, "no-progress", false, "disable the progress bar")
	scanCmd.Flags().BoolVar(&scanFlags.enableMetric, "metrics", false, "record Prometheus metrics for this run")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	mergeScanFlags(cmd, cfg)
	cfg.Scan.Targets = append(cfg.Scan.Targets, args...)

	if len(cfg.Scan.Targets) == 0 {
		return fmt.Errorf("no targets given: pass them as arguments, --targets, or in the config file")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	formatter, err := output.New(scanFlags.format)
	if err != nil {
		return err
	}

	logger := logging.Default().WithComponent("cli")
	opts := []engine.Option{engine.WithLogger(logger)}
	if scanFlags.enableMetric {
		opts = append(opts, engine.WithMetrics(metrics.GetGlobalMetrics()))
	}

	var bar *progressbar.ProgressBar
	if !scanFlags.noProgress && scanFlags.format == "text" {
		opts = append(opts, engine.WithProgress(func(done, total int) {
			if bar == nil {
				bar = newProgressBar(total)
			}
			_ = bar.Set(done)
		}))
	}

	eng, err := engine.New(&cfg.Scan, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := eng.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	out := io.Writer(os.Stdout)
	if scanFlags.outFile != "" {
		f, ferr := os.Create(scanFlags.outFile)
		if ferr != nil {
			return fmt.Errorf("failed to create output file: %w", ferr)
		}
		defer f.Close()
		color.NoColor = true
		out = f
	}
	return formatter.Format(out, run)
}

// mergeScanFlags layers explicitly-set command flags over the config.
func mergeScanFlags(cmd *cobra.Command, cfg *config.Config) {
	if len(scanFlags.targets) > 0 {
		cfg.Scan.Targets = append(cfg.Scan.Targets, scanFlags.targets...)
	}
	if len(scanFlags.exclusions) > 0 {
		cfg.Scan.Exclusions = append(cfg.Scan.Exclusions, scanFlags.exclusions...)
	}
	if len(scanFlags.probeTypes) > 0 {
		cfg.Scan.ProbeTypes = scanFlags.probeTypes
	}
	if scanFlags.ports != "" {
		cfg.Scan.Ports = scanFlags.ports
	}
	if scanFlags.concurrency > 0 {
		cfg.Scan.Concurrency = scanFlags.concurrency
	}
	if scanFlags.timeout > 0 {
		cfg.Scan.ProbeTimeout = scanFlags.timeout
	}
	if scanFlags.retries >= 0 {
		cfg.Scan.Retries = scanFlags.retries
	}
	if scanFlags.rate >= 0 {
		cfg.Scan.RateLimit.OpsPerSecond = scanFlags.rate
	}
	if scanFlags.burst > 0 {
		cfg.Scan.RateLimit.Burst = scanFlags.burst
	}
	if scanFlags.grace > 0 {
		cfg.Scan.GracePeriod = scanFlags.grace
	}
	if cmd.Flags().Changed("banner") {
		cfg.Scan.BannerGrab = scanFlags.banner
	}
	if cmd.Flags().Changed("lenient") {
		cfg.Scan.StrictTargets = !scanFlags.lenient
	}
}

func newProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("probing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
