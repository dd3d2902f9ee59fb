package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func (a *app) cronCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cron", Short: "Manage scheduled tasks"}

	var description string
	add := &cobra.Command{
		Use:   "add <project> <name> <schedule> <command>",
		Short: "Add a scheduled task (cron expression or OnCalendar form)",
		Args:  exactArgs(4),
		RunE: func(c *cobra.Command, args []string) error {
			t, err := a.Cron.Add(c.Context(), args[0], args[1], args[2], args[3], description)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("task %s scheduled (%s)", t.Name, t.Schedule), t)
			return nil
		},
	}
	add.Flags().StringVar(&description, "description", "", "task description")

	list := &cobra.Command{
		Use:   "list <project>",
		Short: "List scheduled tasks",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			tasks, err := a.Cron.List(c.Context(), args[0])
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d task(s)", len(tasks)), tasks)
			for _, t := range tasks {
				state := "disabled"
				if t.Enabled {
					state = "enabled"
				}
				if t.TimerActive {
					state += ",active"
				}
				a.fmt.Printf("%-20s %-26s %-10s %s\n", t.Name, t.Schedule, state, t.Command)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <project> <name>",
		Short: "Remove a scheduled task",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			if err := a.Cron.Remove(c.Context(), args[0], args[1]); err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("task %s removed", args[1]), nil)
			return nil
		},
	}

	enable := &cobra.Command{
		Use:   "enable <project> <name>",
		Short: "Enable a task's timer",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			t, err := a.Cron.Enable(c.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("task %s enabled", t.Name), t)
			return nil
		},
	}

	disable := &cobra.Command{
		Use:   "disable <project> <name>",
		Short: "Disable a task's timer",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			t, err := a.Cron.Disable(c.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("task %s disabled", t.Name), t)
			return nil
		},
	}

	run := &cobra.Command{
		Use:   "run <project> <name>",
		Short: "Run a task immediately",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			status, exitCode, err := a.Cron.RunNow(c.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("task %s ran: %s", args[1], status),
				map[string]any{"status": status, "exit_code": exitCode})
			return nil
		},
	}

	next := &cobra.Command{
		Use:   "next <project> <name>",
		Short: "Show the task's next scheduled run",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			at, err := a.Cron.NextRun(c.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if at.IsZero() {
				a.fmt.Success("no run scheduled", nil)
				return nil
			}
			a.fmt.Success("next run at "+at.Format("2006-01-02 15:04:05 MST"),
				map[string]any{"next_run": at})
			return nil
		},
	}

	cmd.AddCommand(add, list, remove, enable, disable, run, next)
	return cmd
}

func (a *app) workerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "worker", Short: "Manage background workers"}

	var (
		name, queues, appModule, logLevel string
		concurrency                       int
	)
	add := &cobra.Command{
		Use:   "add <project>",
		Short: "Add a worker",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			w, err := a.Workers.Add(c.Context(), args[0], name, concurrency, queues, appModule, logLevel)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("worker %s created for %s", w.Name, args[0]), w)
			return nil
		},
	}
	add.Flags().StringVarP(&name, "name", "n", "default", "worker name")
	add.Flags().IntVarP(&concurrency, "concurrency", "c", 2, "worker processes")
	add.Flags().StringVarP(&queues, "queues", "q", "", "comma-separated queue list")
	add.Flags().StringVar(&appModule, "app", "", "application module (defaults to the project name)")
	add.Flags().StringVarP(&logLevel, "loglevel", "l", "info", "log level")

	list := &cobra.Command{
		Use:   "list <project>",
		Short: "List workers",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			workers, err := a.Workers.List(c.Context(), args[0])
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d worker(s)", len(workers)), workers)
			for _, w := range workers {
				state := "stopped"
				if w.Active {
					state = "active"
				}
				a.fmt.Printf("%-20s concurrency=%-3d queues=%-20s %s\n", w.Name, w.Concurrency, w.Queues, state)
			}
			return nil
		},
	}

	var removeName string
	remove := &cobra.Command{
		Use:   "remove <project>",
		Short: "Remove a worker",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := a.Workers.Remove(c.Context(), args[0], removeName); err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("worker %s removed", removeName), nil)
			return nil
		},
	}
	remove.Flags().StringVarP(&removeName, "name", "n", "default", "worker name")

	scale := &cobra.Command{
		Use:   "scale <project> <name> <concurrency>",
		Short: "Change a worker's concurrency and restart it",
		Args:  exactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("%w: concurrency must be a number", ErrUsage)
			}
			w, err := a.Workers.Scale(c.Context(), args[0], args[1], n)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("worker %s scaled to %d", w.Name, w.Concurrency), w)
			return nil
		},
	}

	var beatModule string
	beatEnable := &cobra.Command{
		Use:   "beat-enable <project>",
		Short: "Enable the per-project scheduler companion",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := a.Workers.EnableBeat(c.Context(), args[0], beatModule); err != nil {
				return err
			}
			a.fmt.Success("beat scheduler enabled", nil)
			return nil
		},
	}
	beatEnable.Flags().StringVar(&beatModule, "app", "", "application module")

	beatDisable := &cobra.Command{
		Use:   "beat-disable <project>",
		Short: "Disable the scheduler companion",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := a.Workers.DisableBeat(c.Context(), args[0]); err != nil {
				return err
			}
			a.fmt.Success("beat scheduler disabled", nil)
			return nil
		},
	}

	cmd.AddCommand(add, list, remove, scale, beatEnable, beatDisable)
	return cmd
}
