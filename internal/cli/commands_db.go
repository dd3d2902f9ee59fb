package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) dbCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "db", Short: "Manage project databases"}

	var vector bool
	create := &cobra.Command{
		Use:   "create <project>",
		Short: "Create the project's database and role, writing DATABASE_URL",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			url, err := a.DBAdmin.CreateDatabase(c.Context(), args[0], vector)
			if err != nil {
				return err
			}
			if _, err := a.Env.Set(c.Context(), args[0], "DATABASE_URL", url); err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("database created for %s", args[0]),
				map[string]any{"project": args[0], "database_url_written": true})
			return nil
		},
	}
	create.Flags().BoolVar(&vector, "vector", false, "enable the pgvector extension")

	var force bool
	drop := &cobra.Command{
		Use:   "drop <project>",
		Short: "Drop the project's database and role",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("%w: dropping a database requires --force", ErrUsage)
			}
			if err := a.DBAdmin.DropDatabase(c.Context(), args[0]); err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("database dropped for %s", args[0]), nil)
			return nil
		},
	}
	drop.Flags().BoolVar(&force, "force", false, "required to confirm the drop")

	cmd.AddCommand(create, drop)
	return cmd
}
