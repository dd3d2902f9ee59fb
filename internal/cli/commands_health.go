package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostkit-platform/hostkit/internal/service"
)

func (a *app) healthCmd() *cobra.Command {
	var (
		endpoint        string
		timeoutSecs     int
		expectedContent string
	)
	cmd := &cobra.Command{
		Use:   "health <project>",
		Short: "Probe a project's health",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			hc, err := a.Health.Check(c.Context(), args[0], service.HealthOpts{
				Endpoint:        endpoint,
				Timeout:         time.Duration(timeoutSecs) * time.Second,
				ExpectedContent: expectedContent,
			})
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%s is %s", args[0], hc.Overall), hc)
			a.fmt.Printf("process: running=%v pid=%d mem=%.1fMB cpu=%.1f%%\n",
				hc.Process.Running, hc.Process.PID, hc.Process.MemoryMB, hc.Process.CPUPercent)
			if hc.HTTP.ServiceResponding {
				a.fmt.Printf("http:    %d on %s (%.0fms)\n", hc.HTTP.Status, hc.HTTP.EndpointUsed, hc.HTTP.ResponseMS)
			} else {
				a.fmt.Printf("http:    not responding (%s)\n", hc.HTTP.Error)
			}
			if hc.DatabaseConnected != nil {
				a.fmt.Printf("db:      connected=%v (%.1fms)\n", *hc.DatabaseConnected, hc.DatabaseLatencyMS)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "/health", "HTTP endpoint to probe")
	cmd.Flags().IntVar(&timeoutSecs, "timeout", 10, "HTTP timeout in seconds")
	cmd.Flags().StringVar(&expectedContent, "expect", "", "required response content")
	return cmd
}

func (a *app) diagnoseCmd() *cobra.Command {
	var (
		lines    int
		runTest  bool
		testSecs int
	)
	cmd := &cobra.Command{
		Use:   "diagnose <project>",
		Short: "Classify failures from recent logs",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if runTest {
				result, err := a.Diagnose.StartupTest(c.Context(), args[0],
					time.Duration(testSecs)*time.Second)
				if err != nil {
					return err
				}
				a.fmt.Success("startup test completed", result)
				a.fmt.Printf("exit code: %d (timed out: %v)\n%s\n", result.ExitCode, result.TimedOut, result.Output)
				return nil
			}

			diagnosis, err := a.Diagnose.Diagnose(c.Context(), args[0], lines)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d pattern(s) detected", len(diagnosis.Patterns)), diagnosis)
			for _, p := range diagnosis.Patterns {
				a.fmt.Printf("[%s] %s (x%d)\n  suggestion: %s\n", p.Severity, p.Type, p.Occurrences, p.Suggestion)
				for _, ev := range p.Evidence {
					a.fmt.Printf("  > %s\n", ev)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&lines, "lines", 200, "log lines to analyze")
	cmd.Flags().BoolVar(&runTest, "run-test", false, "run the entrypoint directly and capture startup output")
	cmd.Flags().IntVar(&testSecs, "test-timeout", 15, "startup test timeout in seconds")
	return cmd
}

func (a *app) eventsCmd() *cobra.Command {
	var opts service.QueryOpts
	cmd := &cobra.Command{
		Use:   "events <project>",
		Short: "Query the event journal",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			events, err := a.Events.Query(c.Context(), args[0], opts)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d event(s)", len(events)), events)
			for _, ev := range events {
				a.fmt.Printf("%-6d %-20s %-10s %-12s %s\n",
					ev.ID, ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Category, ev.Level, ev.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Category, "category", "", "filter by category")
	cmd.Flags().StringVar(&opts.Level, "level", "", "filter by level")
	cmd.Flags().StringVar(&opts.Since, "since", "", `start time (ISO, "1h", "2 days ago")`)
	cmd.Flags().StringVar(&opts.Until, "until", "", "end time")
	cmd.Flags().IntVar(&opts.Limit, "limit", 100, "maximum events")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "skip first N events")
	return cmd
}

func (a *app) envCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "env", Short: "Manage project environment variables"}

	var showSecrets bool
	list := &cobra.Command{
		Use:   "list <project>",
		Short: "List environment variables",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			vars, err := a.Env.List(c.Context(), args[0], showSecrets)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d variable(s)", len(vars)), vars)
			for _, v := range vars {
				a.fmt.Printf("%s=%s\n", v.Key, v.Value)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values in clear")

	get := &cobra.Command{
		Use:   "get <project> <key>",
		Short: "Get one variable",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			value, err := a.Env.Get(c.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.fmt.Success(value, map[string]string{"key": args[1], "value": value})
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <project> <key> <value>",
		Short: "Set one variable",
		Args:  exactArgs(3),
		RunE: func(c *cobra.Command, args []string) error {
			existed, err := a.Env.Set(c.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			action := "created"
			if existed {
				action = "updated"
			}
			a.fmt.Success(fmt.Sprintf("%s %s", args[1], action),
				map[string]string{"key": args[1], "action": action})
			return nil
		},
	}

	unset := &cobra.Command{
		Use:   "unset <project> <key>",
		Short: "Remove one variable",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			if err := a.Env.Unset(c.Context(), args[0], args[1]); err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%s removed", args[1]), nil)
			return nil
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <project> <file>",
		Short: "Replace the environment from a file",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			count, err := a.Env.Import(c.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d variable(s) imported", count),
				map[string]int{"variables_count": count})
			return nil
		},
	}

	sync := &cobra.Command{
		Use:   "sync <project> <file>",
		Short: "Merge variables from a file without overwriting",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			added, skipped, err := a.Env.Sync(c.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d added, %d skipped", len(added), len(skipped)),
				map[string]any{"added": added, "skipped": skipped})
			return nil
		},
	}

	cmd.AddCommand(list, get, set, unset, importCmd, sync)
	return cmd
}
