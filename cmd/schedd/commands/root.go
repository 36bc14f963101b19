package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/schedd/internal/config"
	"github.com/t77yq/schedd/internal/events"
	"github.com/t77yq/schedd/internal/executor"
	"github.com/t77yq/schedd/internal/scheduler"
	"github.com/t77yq/schedd/internal/storage"
)

var (
	cfgPath string
	verbose bool
	cfg     *config.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "schedd",
	Short: "Persistent cron-driven schedule manager",
	Long: `schedd is a persistent, cron-driven job scheduler.

Schedules are stored durably, fired by a cron trigger engine and executed
through named executors with per-schedule mutual exclusion and a full
execution history.

Each management subcommand takes one JSON object and prints a
{"success": bool, "data"?: ..., "error"?: ...} envelope to stdout. Expected
failures (bad cron, unknown id, overlapping trigger) keep exit code zero;
only malformed input or internal faults exit non-zero.

Examples:
  schedd serve
  schedd create '{"name":"Daily Backup","cron_expression":"0 2 * * *","executor_name":"shell_command","executor_input":{"command":"backup.sh"}}'
  schedd list
  schedd trigger '{"id":"<schedule-id>"}'
  schedd history '{"id":"<schedule-id>","limit":20}'`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		logger, err = commandLogger(cmd.Name(), verbose, cfg.App.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Directory containing config.yaml")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Log one-shot subcommands to stderr")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// commandLogger picks the logger for one invocation. One-shot subcommands
// stay silent unless --verbose is set; serve always logs.
func commandLogger(name string, verbose bool, level string) (*zap.Logger, error) {
	if name != serveCmd.Name() && !verbose {
		return zap.NewNop(), nil
	}
	return buildLogger(level)
}

// buildLogger creates the process logger. Logs go to stderr so the JSON
// envelope on stdout stays machine-readable.
func buildLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// cliResponse is the envelope every subcommand prints to stdout.
type cliResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func printResult(data interface{}) error {
	return printJSON(cliResponse{Success: true, Data: data})
}

// printFailure reports an expected failure; the process still exits zero.
func printFailure(err error) error {
	return printJSON(cliResponse{Success: false, Error: err.Error()})
}

func printJSON(resp cliResponse) error {
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// logicalFailure reports whether err is an expected domain failure carried
// in the envelope rather than breaking the exit code contract.
func logicalFailure(err error) bool {
	return errors.Is(err, scheduler.ErrInvalidCron) ||
		errors.Is(err, storage.ErrScheduleNotFound) ||
		errors.Is(err, storage.ErrDuplicateSchedule) ||
		errors.Is(err, executor.ErrAlreadyRunning)
}

// finish maps an operation result to the envelope, keeping internal faults
// on the non-zero exit path.
func finish(data interface{}, err error) error {
	if err != nil {
		if logicalFailure(err) {
			return printFailure(err)
		}
		return err
	}
	return printResult(data)
}

// parseInput unmarshals the subcommand's single JSON object argument. A
// missing argument means an empty object.
func parseInput(args []string, v interface{}) error {
	raw := "{}"
	if len(args) > 0 {
		raw = args[0]
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	return nil
}

// newManager opens the store and wires an unstarted manager for one-shot
// subcommands. The returned cleanup closes the store and registry.
func newManager() (*scheduler.Manager, func(), error) {
	store, err := storage.NewSQLiteStore(logger, cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}

	registry, closeRegistry, err := buildRegistry(cfg, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	coordinator := executor.NewCoordinator(store, registry.Execute, logger)
	manager := scheduler.NewManager(scheduler.ManagerConfig{
		Workers:   cfg.Scheduler.Workers,
		QueueSize: cfg.Scheduler.QueueSize,
	}, store, coordinator, events.NopPublisher{}, logger)

	cleanup := func() {
		closeRegistry()
		store.Close()
	}
	return manager, cleanup, nil
}
