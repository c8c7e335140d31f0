package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// CLI flags; each overrides the run config only when set explicitly
	configPath    string  // Path to run.yaml
	modelName     string  // Model to run: decay or network
	until         float64 // Simulated time to run to
	logLevel      string  // Log verbosity level
	seed          int64   // Seed for connection gating and model randomness
	workers       int     // Shards per phase
	integrator    string  // Integrator name
	spikesAfter   bool    // Run steps before spikes at equal time
	numericType   string  // Scalar type: float64, float32 or fixed
	fracBits      uint    // Fractional bits for fixed-point
	outputDir     string  // Directory for CSV trace output
	traceLevel    string  // Trace verbosity
	traceInterval float64 // Simulated time between population samples
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "spike-sim",
	Short: "Discrete-event simulator for spiking networks",
}

// runCmd executes a simulation using the run config and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		rc := DefaultRunConfig()
		if configPath != "" {
			rc, err = LoadRunConfig(configPath)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
		}
		applyFlagOverrides(cmd, &rc)
		if err := rc.Validate(); err != nil {
			logrus.Fatalf("Invalid run config: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runID := uuid.NewString()
		startTime := time.Now()
		res, err := runSimulation(ctx, rc, runID)
		if err != nil {
			logrus.Fatalf("Run %s failed: %v", runID, err)
		}

		res.Metrics.Print(res.Time)
		printSummary(res.Summary)
		logCollectors(res.Registry)
		logrus.Infof("Run %s complete in %v (t=%g, %d events pending)",
			runID, time.Since(startTime).Round(time.Millisecond), res.Time, res.Pending)
	},
}

// applyFlagOverrides copies explicitly set flags over rc, so file values
// survive flag defaults.
func applyFlagOverrides(cmd *cobra.Command, rc *RunConfig) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		rc.Model = modelName
	}
	if flags.Changed("until") {
		rc.Until = until
	}
	if flags.Changed("seed") {
		rc.Simulator.Seed = seed
	}
	if flags.Changed("workers") {
		rc.Simulator.Parallel.Workers = workers
	}
	if flags.Changed("integrator") {
		rc.Simulator.Schedule.Integrator = integrator
	}
	if flags.Changed("after") {
		rc.Simulator.Schedule.SpikesAfterStep = spikesAfter
	}
	if flags.Changed("numeric") {
		rc.Numeric.Type = numericType
	}
	if flags.Changed("frac") {
		rc.Numeric.Frac = fracBits
	}
	if flags.Changed("output") {
		rc.Output.Dir = outputDir
	}
	if flags.Changed("trace") {
		rc.Trace.Level = traceLevel
	}
	if flags.Changed("trace-interval") {
		rc.Trace.Interval = traceInterval
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to a run.yaml config file")
	runCmd.Flags().StringVar(&logLevel, "log", "error", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().StringVar(&modelName, "model", "network", "Model to run (decay, network)")
	runCmd.Flags().Float64Var(&until, "until", 100, "Simulated time to run to")

	// Scheduler
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed for connection gating and model randomness")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Shards per phase (0 = GOMAXPROCS)")
	runCmd.Flags().StringVar(&integrator, "integrator", "euler", "Integrator (euler, rk4, runge-kutta)")
	runCmd.Flags().BoolVar(&spikesAfter, "after", false, "Run steps before spikes at equal time")

	// Numeric type
	runCmd.Flags().StringVar(&numericType, "numeric", "float64", "Scalar type (float64, float32, fixed)")
	runCmd.Flags().UintVar(&fracBits, "frac", 16, "Fractional bits for fixed-point")

	// Output
	runCmd.Flags().StringVar(&outputDir, "output", "", "Directory for CSV trace output (a subdirectory per run id)")
	runCmd.Flags().StringVar(&traceLevel, "trace", "none", "Trace level (none, populations, events)")
	runCmd.Flags().Float64Var(&traceInterval, "trace-interval", 1, "Simulated time between population samples")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
