package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/t77yq/schedd/internal/scheduler"
)

type createRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	CronExpression string          `json:"cron_expression"`
	ExecutorName   string          `json:"executor_name"`
	ExecutorInput  json.RawMessage `json:"executor_input"`
	TimeoutSeconds int             `json:"timeout_seconds"`
}

type idRequest struct {
	ID string `json:"id"`
}

type historyRequest struct {
	ID    string `json:"id"`
	Limit int    `json:"limit"`
}

var createCmd = &cobra.Command{
	Use:   "create '<json>'",
	Short: "Create a schedule",
	Long: `Create a schedule from one JSON object.

Fields: name, description, cron_expression (5-field cron), executor_name,
executor_input (object passed to the executor), timeout_seconds.

Example:
  schedd create '{"name":"Daily Backup","cron_expression":"0 2 * * *","executor_name":"shell_command","executor_input":{"command":"backup.sh"}}'`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req createRequest
		if err := parseInput(args, &req); err != nil {
			return err
		}

		manager, cleanup, err := newManager()
		if err != nil {
			return err
		}
		defer cleanup()

		sched, err := manager.CreateSchedule(cmd.Context(), scheduler.CreateScheduleRequest{
			Name:           req.Name,
			Description:    req.Description,
			CronExpression: req.CronExpression,
			ExecutorName:   req.ExecutorName,
			ExecutorInput:  req.ExecutorInput,
			Timeout:        time.Duration(req.TimeoutSeconds) * time.Second,
		})
		return finish(sched, err)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all schedules",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, cleanup, err := newManager()
		if err != nil {
			return err
		}
		defer cleanup()

		schedules, err := manager.ListSchedules(cmd.Context())
		return finish(schedules, err)
	},
}

var getCmd = &cobra.Command{
	Use:   "get '{\"id\":\"...\"}'",
	Short: "Get one schedule by id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req idRequest
		if err := parseInput(args, &req); err != nil {
			return err
		}

		manager, cleanup, err := newManager()
		if err != nil {
			return err
		}
		defer cleanup()

		sched, err := manager.GetSchedule(cmd.Context(), req.ID)
		if err != nil {
			return err
		}
		if sched == nil {
			return printFailure(fmt.Errorf("schedule not found: %s", req.ID))
		}
		return printResult(sched)
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause '{\"id\":\"...\"}'",
	Short: "Pause a schedule",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req idRequest
		if err := parseInput(args, &req); err != nil {
			return err
		}

		manager, cleanup, err := newManager()
		if err != nil {
			return err
		}
		defer cleanup()

		sched, err := manager.PauseSchedule(cmd.Context(), req.ID)
		return finish(sched, err)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume '{\"id\":\"...\"}'",
	Short: "Resume a paused schedule",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req idRequest
		if err := parseInput(args, &req); err != nil {
			return err
		}

		manager, cleanup, err := newManager()
		if err != nil {
			return err
		}
		defer cleanup()

		sched, err := manager.ResumeSchedule(cmd.Context(), req.ID)
		return finish(sched, err)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete '{\"id\":\"...\"}'",
	Short: "Delete a schedule",
	Long: `Delete a schedule by id.

Deletion is idempotent: deleting an absent id succeeds and reports
deleted=false. Execution history for the id is kept.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req idRequest
		if err := parseInput(args, &req); err != nil {
			return err
		}

		manager, cleanup, err := newManager()
		if err != nil {
			return err
		}
		defer cleanup()

		deleted, err := manager.DeleteSchedule(cmd.Context(), req.ID)
		return finish(map[string]bool{"deleted": deleted}, err)
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger '{\"id\":\"...\"}'",
	Short: "Run a schedule immediately",
	Long: `Run one execution attempt synchronously, bypassing the cron clock.

The attempt's outcome is reported in the data field whether the executor
succeeded or failed. Triggering an unknown id or a schedule that is already
running reports a failure envelope with exit code zero.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req idRequest
		if err := parseInput(args, &req); err != nil {
			return err
		}

		manager, cleanup, err := newManager()
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := manager.TriggerNow(cmd.Context(), req.ID)
		if err != nil {
			if logicalFailure(err) {
				return printFailure(err)
			}
			return err
		}
		if result.ExecutionID == "" {
			// No attempt started
			return printFailure(errors.New(result.Error))
		}
		return printResult(result)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history '{\"id\":\"...\",\"limit\":100}'",
	Short: "List execution history for a schedule, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req historyRequest
		if err := parseInput(args, &req); err != nil {
			return err
		}

		manager, cleanup, err := newManager()
		if err != nil {
			return err
		}
		defer cleanup()

		records, err := manager.ExecutionHistory(cmd.Context(), req.ID, req.Limit)
		return finish(records, err)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show schedule counts by status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, cleanup, err := newManager()
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := manager.Stats(cmd.Context())
		return finish(stats, err)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
}
