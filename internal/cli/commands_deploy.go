package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostkit-platform/hostkit/internal/service"
)

func (a *app) deployCmd() *cobra.Command {
	var (
		source, gitURL, branch, tag, commit string
		build, install, withSecrets         bool
		noRestart, overrideRateLimit        bool
	)
	cmd := &cobra.Command{
		Use:   "deploy <project>",
		Short: "Deploy code to a project",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			projectName := args[0]

			useGit := gitURL != "" || branch != "" || tag != "" || commit != ""
			if useGit && source != "" {
				return fmt.Errorf("%w: cannot use --source with git options", ErrUsage)
			}

			opts := service.DeployOptions{
				Build:             build,
				InstallDeps:       install,
				InjectSecrets:     withSecrets,
				Restart:           !noRestart,
				OverrideRateLimit: overrideRateLimit,
				Branch:            branch,
				Tag:               tag,
				Commit:            commit,
			}

			var result *service.DeployResult
			var err error
			if useGit {
				url := gitURL
				if url == "" {
					cfg, cfgErr := a.Git.Config(c.Context(), projectName)
					if cfgErr != nil || cfg == nil {
						return fmt.Errorf("%w: no --git URL given and no repository configured", ErrUsage)
					}
					url = cfg.RepoURL
					if opts.Branch == "" && tag == "" && commit == "" {
						opts.Branch = cfg.DefaultBranch
					}
				}
				result, err = a.Deploy.Deploy(c.Context(), projectName, service.SourceGit, url, opts)
			} else {
				if source == "" {
					source = "./app"
				}
				result, err = a.Deploy.Deploy(c.Context(), projectName, service.SourceLocalPath, source, opts)
			}
			if err != nil {
				return err
			}

			msg := fmt.Sprintf("deployed %s as release %s (%d files)",
				projectName, result.ReleaseName, result.FilesSynced)
			a.fmt.Success(msg, result)
			if result.HealthWarning != "" {
				a.fmt.Printf("warning: %s\n", result.HealthWarning)
			}
			if result.RestartError != "" {
				a.fmt.Printf("warning: restart failed: %s\n", result.RestartError)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&source, "source", "s", "", "local source directory (default ./app)")
	cmd.Flags().StringVarP(&gitURL, "git", "g", "", "git repository URL (or use the configured repo)")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "git branch to checkout")
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "git tag to checkout (overrides --branch)")
	cmd.Flags().StringVarP(&commit, "commit", "c", "", "git commit to checkout (overrides --branch and --tag)")
	cmd.Flags().BoolVar(&build, "build", false, "build the app inside the release before switching")
	cmd.Flags().BoolVarP(&install, "install", "i", false, "install dependencies after sync")
	cmd.Flags().BoolVar(&withSecrets, "with-secrets", false, "inject secrets from the vault into .env")
	cmd.Flags().BoolVar(&noRestart, "no-restart", false, "skip the service restart")
	cmd.Flags().BoolVar(&overrideRateLimit, "override-ratelimit", false, "bypass rate limit checks")
	return cmd
}

func (a *app) rollbackCmd() *cobra.Command {
	var (
		to            string
		full, dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "rollback <project>",
		Short: "Roll back to a previous release",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			result, err := a.Rollback.Rollback(c.Context(), args[0], service.RollbackOptions{
				To: to, Full: full, DryRun: dryRun,
			})
			if err != nil {
				return err
			}
			if dryRun {
				a.fmt.Success("dry run: no changes made", result)
				return nil
			}
			a.fmt.Success(fmt.Sprintf("rolled back to release %s", result.CurrentRelease), result)
			if result.DatabaseError != "" {
				a.fmt.Printf("warning: database restore failed: %s\n", result.DatabaseError)
			}
			if result.RestartError != "" {
				a.fmt.Printf("warning: restart failed: %s\n", result.RestartError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "roll back to a specific release by name")
	cmd.Flags().BoolVar(&full, "full", false, "also restore the database checkpoint and environment")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without making changes")
	return cmd
}

func (a *app) releaseCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "release", Short: "Inspect releases"}

	var limit int
	list := &cobra.Command{
		Use:   "list <project>",
		Short: "List releases, most recent first",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			releases, err := a.Releases.ListReleases(c.Context(), args[0], limit)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d release(s)", len(releases)), releases)
			for _, r := range releases {
				marker := " "
				if r.IsCurrent {
					marker = "*"
				}
				snapshot := "-"
				switch {
				case r.CheckpointID != nil && r.EnvSnapshot != "":
					snapshot = "DB+ENV"
				case r.CheckpointID != nil:
					snapshot = "DB"
				case r.EnvSnapshot != "":
					snapshot = "ENV"
				}
				a.fmt.Printf("%s %-18s %-25s files=%-6d snapshot=%s\n",
					marker, r.ReleaseName, r.DeployedAt.Format("2006-01-02 15:04:05"), r.FilesSynced, snapshot)
			}
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum releases to list")

	cleanup := &cobra.Command{
		Use:   "cleanup <project>",
		Short: "Remove releases beyond the retention limit",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			removed, err := a.Releases.CleanupOldReleases(c.Context(), args[0])
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d release(s) removed", removed),
				map[string]any{"removed": removed})
			return nil
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate <project>",
		Short: "Convert a legacy in-place app directory to releases",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			r, err := a.Releases.MigrateToReleases(c.Context(), args[0])
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("migrated; initial release %s", r.ReleaseName), r)
			return nil
		},
	}

	cmd.AddCommand(list, cleanup, migrate)
	return cmd
}
