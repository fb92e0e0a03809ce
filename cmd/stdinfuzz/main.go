package main

import (
	"os"
	"time"

	"stdinfuzz/config"
	"stdinfuzz/internal/campaign"
	"stdinfuzz/internal/crash"
	"stdinfuzz/internal/harness"
	"stdinfuzz/internal/mutate"
	"stdinfuzz/internal/report"
	"stdinfuzz/internal/runner"
	"stdinfuzz/internal/seeds"
	"stdinfuzz/internal/target"
	"stdinfuzz/pkg/logger"
	"stdinfuzz/pkg/mq"
	"stdinfuzz/pkg/telemetry"
	"stdinfuzz/pkg/watchdog"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stdinfuzz [flags] <command>",
		Short: "Mutation fuzzer for programs that read standard input",
		Long: `stdinfuzz mutates a seed input, pipes every variant to <command> on
standard input and stops at the first variant that makes it exit with a
non-zero status. <command> is run through the system shell from the working
directory and must name a file there.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := overridesFromFlags(cmd, args[0])
			if err != nil {
				return err
			}
			newApp(overrides).Run()
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntP("rounds", "n", config.DefaultRounds, "mutation rounds, three mutants each")
	flags.StringP("seed-file", "s", "", "file holding the seed input")
	flags.StringP("config", "c", "", "YAML campaign file")
	flags.StringP("workdir", "C", "", "directory the command is resolved and run in")
	flags.Duration("timeout", 0, "kill the target after this long (0 waits forever)")
	flags.StringArray("filter", nil, "regular expression removed from the target output (repeatable)")
	flags.Uint64("rand-seed", 0, "seed the mutation generator for a reproducible batch")
	flags.String("crash-dir", "", "save crashing inputs below this directory")
	flags.BoolP("watch", "w", false, "rerun the campaign whenever the target file changes")
	flags.String("log-level", "", "debug, info, warn or error")
	return cmd
}

func overridesFromFlags(cmd *cobra.Command, command string) (config.Overrides, error) {
	flags := cmd.Flags()
	o := config.Overrides{Command: command}

	var err error
	if o.SeedFile, err = flags.GetString("seed-file"); err != nil {
		return o, err
	}
	if o.ConfigFile, err = flags.GetString("config"); err != nil {
		return o, err
	}
	if o.WorkDir, err = flags.GetString("workdir"); err != nil {
		return o, err
	}
	if o.CrashDir, err = flags.GetString("crash-dir"); err != nil {
		return o, err
	}
	if o.LogLevel, err = flags.GetString("log-level"); err != nil {
		return o, err
	}
	if o.Watch, err = flags.GetBool("watch"); err != nil {
		return o, err
	}

	// only flags given explicitly override the campaign file and environment
	if flags.Changed("rounds") {
		rounds, err := flags.GetInt("rounds")
		if err != nil {
			return o, err
		}
		o.Rounds = &rounds
	}
	if flags.Changed("timeout") {
		var timeout time.Duration
		if timeout, err = flags.GetDuration("timeout"); err != nil {
			return o, err
		}
		o.Timeout = &timeout
	}
	if flags.Changed("rand-seed") {
		var seed uint64
		if seed, err = flags.GetUint64("rand-seed"); err != nil {
			return o, err
		}
		o.RandSeed = &seed
	}
	if flags.Changed("filter") {
		if o.Filters, err = flags.GetStringArray("filter"); err != nil {
			return o, err
		}
		if o.Filters == nil {
			o.Filters = []string{}
		}
	}
	return o, nil
}

func newApp(overrides config.Overrides) *fx.App {
	return fx.New(
		fx.Supply(overrides),
		fx.Provide(
			config.LoadConfig,           // inject config
			telemetry.NewTelemetry,      // inject telemetry
			logger.NewLogger,            // inject logger
			telemetry.NewTracerFactory,  // inject telemetry tracer factory
			mq.NewRabbitMQ,              // inject rabbitmq service
			target.NewTargetCommand,     // inject resolved target
			seeds.NewSeed,               // inject seed input
			mutate.NewEngineFromConfig,  // inject mutation engine
			harness.NewHarness,          // inject execution harness
			campaign.NewOrchestrator,    // inject campaign orchestrator
			crash.NewCrashManager,       // inject crash manager
			report.NewConsole,           // inject console report
			watchdog.NewWatchDogFactory, // inject watchdog factory
		),
		fx.Invoke(
			runner.NewRunner,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
