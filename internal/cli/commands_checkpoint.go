package cli

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hostkit-platform/hostkit/internal/domain/checkpoint"
)

func (a *app) checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "checkpoint", Short: "Manage database checkpoints"}

	var label string
	create := &cobra.Command{
		Use:   "create <project>",
		Short: "Create a manual checkpoint",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cp, err := a.Checkpoint.Create(c.Context(), args[0], label, checkpoint.TypeManual, "user")
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("checkpoint %d created (%s)", cp.ID, humanize.Bytes(uint64(cp.SizeBytes))), cp)
			return nil
		},
	}
	create.Flags().StringVar(&label, "label", "", "human-readable label")

	var typFilter string
	var limit int
	list := &cobra.Command{
		Use:   "list <project>",
		Short: "List checkpoints",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cps, err := a.Checkpoint.List(c.Context(), args[0], checkpoint.Type(typFilter), limit)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d checkpoint(s)", len(cps)), cps)
			for _, cp := range cps {
				expiry := "never"
				if cp.ExpiresAt != nil {
					expiry = cp.ExpiresAt.Format("2006-01-02")
				}
				a.fmt.Printf("%-6d %-14s %-10s %-20s expires=%s\n",
					cp.ID, cp.Type, humanize.Bytes(uint64(cp.SizeBytes)),
					cp.CreatedAt.Format("2006-01-02 15:04:05"), expiry)
			}
			return nil
		},
	}
	list.Flags().StringVar(&typFilter, "type", "", "filter by checkpoint type")
	list.Flags().IntVar(&limit, "limit", 20, "maximum checkpoints to list")

	var noPreRestore bool
	restore := &cobra.Command{
		Use:   "restore <project> <id>",
		Short: "Restore the database from a checkpoint",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: checkpoint id must be a number", ErrUsage)
			}
			result, err := a.Checkpoint.Restore(c.Context(), args[0], id, !noPreRestore)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("database restored from checkpoint %d", id), result)
			return nil
		},
	}
	restore.Flags().BoolVar(&noPreRestore, "no-pre-restore", false, "skip the safety checkpoint before restoring")

	var force bool
	del := &cobra.Command{
		Use:   "delete <project> <id>",
		Short: "Delete a checkpoint",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: checkpoint id must be a number", ErrUsage)
			}
			cp, err := a.Checkpoint.Delete(c.Context(), args[0], id, force)
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("checkpoint %d deleted (%s freed)", id, humanize.Bytes(uint64(cp.SizeBytes))), cp)
			return nil
		},
	}
	del.Flags().BoolVar(&force, "force", false, "required to confirm deletion")

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired checkpoints across all projects",
		Args:  exactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			result, err := a.Checkpoint.CleanupExpired(c.Context())
			if err != nil {
				return err
			}
			a.fmt.Success(fmt.Sprintf("%d checkpoint(s) removed, %s reclaimed",
				result.DeletedCount, humanize.Bytes(uint64(result.FreedBytes))), result)
			return nil
		},
	}

	cmd.AddCommand(create, list, restore, del, cleanup)
	return cmd
}
