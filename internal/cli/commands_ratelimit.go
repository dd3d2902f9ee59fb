package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hostkit-platform/hostkit/internal/domain"
)

// parseDuration converts "30m", "1h", "2d", or a bare number (minutes) into
// minutes.
func parseDuration(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	mult := 1
	switch {
	case strings.HasSuffix(s, "d"):
		mult, s = 24*60, strings.TrimSuffix(s, "d")
	case strings.HasSuffix(s, "h"):
		mult, s = 60, strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, domain.Ef(domain.CodeInvalidDuration, "invalid duration %q", s).
			WithSuggestion("use forms like 30m, 1h, 2d, or a bare number of minutes")
	}
	return n * mult, nil
}

func (a *app) ratelimitCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ratelimit", Short: "Deploy rate limit configuration"}

	show := &cobra.Command{
		Use:   "show <project>",
		Short: "Show rate limit configuration and current status",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			status, err := a.RateLimit.Status(c.Context(), args[0])
			if err != nil {
				return err
			}
			a.fmt.Success("rate limit status retrieved", status)
			a.fmt.Printf("max deploys:       %d per %dm window\n", status.Config.MaxDeploys, status.Config.WindowMinutes)
			a.fmt.Printf("deploys in window: %d\n", status.DeploysInWindow)
			a.fmt.Printf("consecutive fails: %d/%d\n", status.ConsecutiveFailures, status.Config.ConsecutiveFailureLimit)
			if status.Blocked {
				a.fmt.Printf("BLOCKED: %s\n", status.BlockReason)
			}
			return nil
		},
	}

	var maxDeploys, failureLimit int
	var windowStr, cooldownStr string
	set := &cobra.Command{
		Use:   "set <project>",
		Short: "Configure rate limits",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var maxPtr, windowPtr, cooldownPtr, limitPtr *int
			if c.Flags().Changed("max") {
				maxPtr = &maxDeploys
			}
			if c.Flags().Changed("failure-limit") {
				limitPtr = &failureLimit
			}
			if windowStr != "" {
				minutes, err := parseDuration(windowStr)
				if err != nil {
					return err
				}
				windowPtr = &minutes
			}
			if cooldownStr != "" {
				minutes, err := parseDuration(cooldownStr)
				if err != nil {
					return err
				}
				cooldownPtr = &minutes
			}
			if maxPtr == nil && windowPtr == nil && cooldownPtr == nil && limitPtr == nil {
				return fmt.Errorf("%w: provide --max, --window, --cooldown, or --failure-limit", ErrUsage)
			}
			cfg, err := a.RateLimit.SetConfig(c.Context(), args[0], maxPtr, windowPtr, cooldownPtr, limitPtr)
			if err != nil {
				return err
			}
			a.fmt.Success("rate limit configuration updated", cfg)
			return nil
		},
	}
	set.Flags().IntVar(&maxDeploys, "max", 0, "maximum deploys per window (0 disables)")
	set.Flags().StringVar(&windowStr, "window", "", "window duration (e.g. 1h, 30m)")
	set.Flags().StringVar(&cooldownStr, "cooldown", "", "cooldown after consecutive failures")
	set.Flags().IntVar(&failureLimit, "failure-limit", 0, "consecutive failures before cooldown")

	var clearHistory bool
	reset := &cobra.Command{
		Use:   "reset <project>",
		Short: "Reset rate limits to defaults",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			removed, err := a.RateLimit.ResetConfig(c.Context(), args[0])
			if err != nil {
				return err
			}
			cleared := int64(0)
			if clearHistory {
				cleared, err = a.RateLimit.ClearHistory(c.Context(), args[0])
				if err != nil {
					return err
				}
			}
			a.fmt.Success("rate limits reset", map[string]any{
				"config_reset": removed, "history_cleared": cleared,
			})
			return nil
		},
	}
	reset.Flags().BoolVar(&clearHistory, "history", false, "also clear deploy history")

	cmd.AddCommand(show, set, reset)
	return cmd
}

func (a *app) limitsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "limits", Short: "Resource limit configuration"}

	show := &cobra.Command{
		Use:   "show <project>",
		Short: "Show resource limits",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			rl, err := a.Limits.GetOrDefault(c.Context(), args[0])
			if err != nil {
				return err
			}
			a.fmt.Success("resource limits retrieved", rl)
			return nil
		},
	}

	var cpu, memMax, memHigh, tasks, disk int
	var unlimited bool
	set := &cobra.Command{
		Use:   "set <project>",
		Short: "Set resource limits",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ptr := func(flag string, v *int) *int {
				if c.Flags().Changed(flag) {
					return v
				}
				return nil
			}
			rl, err := a.Limits.Set(c.Context(), args[0],
				ptr("cpu", &cpu), ptr("memory-max", &memMax), ptr("memory-high", &memHigh),
				ptr("tasks", &tasks), ptr("disk", &disk), nil, unlimited)
			if err != nil {
				return err
			}
			a.fmt.Success("resource limits updated", rl)
			return nil
		},
	}
	set.Flags().IntVar(&cpu, "cpu", 0, "CPU quota percent (100 = 1 core)")
	set.Flags().IntVar(&memMax, "memory-max", 0, "hard memory limit in MB")
	set.Flags().IntVar(&memHigh, "memory-high", 0, "soft memory limit in MB")
	set.Flags().IntVar(&tasks, "tasks", 0, "max processes/threads")
	set.Flags().IntVar(&disk, "disk", 0, "advisory disk quota in MB")
	set.Flags().BoolVar(&unlimited, "unlimited", false, "clear all limits")

	apply := &cobra.Command{
		Use:   "apply <project>",
		Short: "Apply limits to the running service (regenerates the unit and restarts)",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := a.Limits.Apply(c.Context(), args[0]); err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("limits applied to %s", args[0]), nil)
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset <project>",
		Short: "Reset limits to recommended defaults",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			rl, err := a.Limits.Reset(c.Context(), args[0])
			if err != nil {
				return err
			}
			a.fmt.Success("resource limits reset", rl)
			return nil
		},
	}

	diskCmd := &cobra.Command{
		Use:   "disk <project>",
		Short: "Check advisory disk usage",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			usage, err := a.Limits.CheckDiskUsage(c.Context(), args[0])
			if err != nil {
				return err
			}
			a.fmt.Success("disk usage retrieved", usage)
			return nil
		},
	}

	cmd.AddCommand(show, set, apply, reset, diskCmd)
	return cmd
}
