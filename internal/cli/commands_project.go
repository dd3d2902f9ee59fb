package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hostkit-platform/hostkit/internal/domain/project"
)

func (a *app) projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}

	var runtime string
	var port int
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Register a new project",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			p, err := a.Projects.Register(c.Context(), args[0], project.Runtime(runtime), port)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("project %s created on port %d", p.Name, p.Port), p)
			return nil
		},
	}
	create.Flags().StringVar(&runtime, "runtime", "python", "runtime (python, node, nextjs, static)")
	create.Flags().IntVar(&port, "port", 0, "port (allocated automatically when omitted)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  exactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			projects, err := a.Projects.List(c.Context())
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d project(s)", len(projects)), projects)
			for _, p := range projects {
				a.fmt.Printf("  %-20s %-8s port %-6d %s\n", p.Name, p.Runtime, p.Port, p.Status)
			}
			return nil
		},
	}

	var keepDatabase bool
	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a project and everything it owns",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := a.Projects.Delete(c.Context(), args[0], !keepDatabase); err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("project %s deleted", args[0]), nil)
			return nil
		},
	}
	del.Flags().BoolVar(&keepDatabase, "keep-database", false, "leave the project database in place")

	resume := &cobra.Command{
		Use:   "resume <name>",
		Short: "Lift an auto-pause so deploys can proceed",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if err := a.AutoPause.Resume(c.Context(), args[0]); err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("project %s resumed", args[0]), nil)
			return nil
		},
	}

	cmd.AddCommand(create, list, del, resume)
	return cmd
}

func (a *app) serviceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "service", Short: "Control project services"}

	mk := func(verb string, fn func(c *cobra.Command, name string) error) *cobra.Command {
		return &cobra.Command{
			Use:   verb + " <project>",
			Short: verb + " the project's app service",
			Args:  exactArgs(1),
			RunE: func(c *cobra.Command, args []string) error {
				if err := fn(c, args[0]); err != nil {
					return err
				}
				a.fmt.Success(fmt.Sprintf("service for %s: %s issued", args[0], verb), nil)
				return nil
			},
		}
	}

	var lines int
	var errorOnly, follow bool
	logs := &cobra.Command{
		Use:   "logs <project>",
		Short: "Show the project's service logs",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if follow {
				stream, err := a.Projects.FollowLogs(c.Context(), args[0], lines)
				if err != nil {
					return err
				}
				defer stream.Close()
				// The read loop runs until the stream ends or the user
				// interrupts; context cancellation tears the child down.
				_, err = io.Copy(a.fmt.Out, stream)
				return err
			}
			out, err := a.Projects.Logs(c.Context(), args[0], lines, errorOnly)
			if err != nil {
				return err
			}
			if a.fmt.JSON {
				a.fmt.Success("logs retrieved", map[string]any{"project": args[0], "logs": out})
				return nil
			}
			fmt.Fprint(a.fmt.Out, out)
			return nil
		},
	}
	logs.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines")
	logs.Flags().BoolVar(&errorOnly, "errors", false, "warnings and errors only")
	logs.Flags().BoolVarP(&follow, "follow", "f", false, "stream logs until interrupted")

	cmd.AddCommand(
		mk("start", func(c *cobra.Command, name string) error { return a.Projects.Start(c.Context(), name) }),
		mk("stop", func(c *cobra.Command, name string) error { return a.Projects.Stop(c.Context(), name) }),
		mk("restart", func(c *cobra.Command, name string) error { return a.Projects.Restart(c.Context(), name) }),
		logs,
	)
	return cmd
}
