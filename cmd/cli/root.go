// Package cli implements the huginn command-line interface: the scan
// command itself plus helpers for inspecting probes and configuration.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/huginnscan/huginn/internal/config"
	"github.com/huginnscan/huginn/internal/logging"
	"github.com/huginnscan/huginn/internal/security"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "huginn",
	Short: "Concurrent network reconnaissance",
	Long: `Huginn probes networks with a configurable set of techniques: ICMP
reachability checks, full TCP connects, half-open SYN scans, and UDP
datagrams. Targets expand from literals, hostnames, ranges, and CIDR
blocks; probing runs under strict concurrency and rate limits.`,
	Version: getVersion(),
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Accept underscored flag spellings (--probe_timeout) alongside the
	// dashed canonical ones.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./huginn.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("huginn")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HUGINN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setConfigDefaults()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
		if warning := security.ValidateConfigFileSecurity(viper.ConfigFileUsed()); warning != "" {
			fmt.Fprintln(os.Stderr, "Warning:", warning)
		}
	}

	initLogging()
}

// setConfigDefaults sets default values for configuration.
func setConfigDefaults() {
	defaults := config.Default()

	viper.SetDefault("scan.probe_types", defaults.Scan.ProbeTypes)
	viper.SetDefault("scan.ports", defaults.Scan.Ports)
	viper.SetDefault("scan.concurrency", defaults.Scan.Concurrency)
	viper.SetDefault("scan.probe_timeout", defaults.Scan.ProbeTimeout)
	viper.SetDefault("scan.retries", defaults.Scan.Retries)
	viper.SetDefault("scan.rate_limit.ops_per_second", defaults.Scan.RateLimit.OpsPerSecond)
	viper.SetDefault("scan.rate_limit.burst", defaults.Scan.RateLimit.Burst)
	viper.SetDefault("scan.grace_period", defaults.Scan.GracePeriod)
	viper.SetDefault("scan.strict_targets", defaults.Scan.StrictTargets)
	viper.SetDefault("scan.port_concurrency", defaults.Scan.PortConcurrency)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.format", defaults.Logging.Format)
	viper.SetDefault("logging.output", defaults.Logging.Output)
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}

	level := viper.GetString("logging.level")
	if level == "" {
		level = cfg.Logging.Level
	}
	if verbose {
		level = "debug"
	}

	logConfig := logging.Config{
		Level:     logging.LogLevel(level),
		Format:    logging.LogFormat(cfg.Logging.Format),
		Output:    cfg.Logging.Output,
		AddSource: level == "debug",
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
}

// loadConfig builds the effective configuration from file plus viper
// overrides. Command flags are merged afterwards by each command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return nil, err
	}

	if viper.IsSet("scan.concurrency") {
		cfg.Scan.Concurrency = viper.GetInt("scan.concurrency")
	}
	if viper.IsSet("scan.ports") {
		cfg.Scan.Ports = viper.GetString("scan.ports")
	}
	if viper.IsSet("scan.rate_limit.ops_per_second") {
		cfg.Scan.RateLimit.OpsPerSecond = viper.GetFloat64("scan.rate_limit.ops_per_second")
	}
	return cfg, nil
}
