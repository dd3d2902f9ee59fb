package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostkit-platform/hostkit/internal/service"
)

// ErrUsage marks malformed invocations so main can exit 2 instead of 1.
var ErrUsage = errors.New("usage error")

// Deps carries every service the command tree dispatches into.
type Deps struct {
	Projects   *service.ProjectService
	Releases   *service.ReleaseService
	Checkpoint *service.CheckpointService
	RateLimit  *service.RateLimitService
	AutoPause  *service.AutoPauseService
	Health     *service.HealthService
	Diagnose   *service.DiagnoseService
	Deploy     *service.DeployService
	Rollback   *service.RollbackService
	Cron       *service.CronService
	Workers    *service.WorkerService
	Limits     *service.LimitsService
	Env        *service.EnvService
	Events     *service.EventService
	Provision  *service.ProvisionService
	Git        *service.GitService
	DBAdmin    *service.DBAdminService
}

// app bundles the deps with the active formatter.
type app struct {
	*Deps
	fmt *Formatter
}

// NewRoot builds the hostkit command tree.
func NewRoot(deps *Deps) *cobra.Command {
	a := &app{Deps: deps}
	var jsonMode bool

	root := &cobra.Command{
		Use:           "hostkit",
		Short:         "Single-host deployment control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.fmt = NewFormatter(jsonMode)
			if cmd.HasParent() && cmd.Parent() != cmd.Root() {
				return Authorize(cmd.Parent().Name(), cmd.Name())
			}
			return Authorize(cmd.Name(), "")
		},
	}
	root.PersistentFlags().BoolVar(&jsonMode, "json", false, "emit machine-readable JSON envelopes")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	root.AddCommand(
		a.projectCmd(),
		a.deployCmd(),
		a.rollbackCmd(),
		a.releaseCmd(),
		a.checkpointCmd(),
		a.ratelimitCmd(),
		a.limitsCmd(),
		a.cronCmd(),
		a.workerCmd(),
		a.healthCmd(),
		a.diagnoseCmd(),
		a.eventsCmd(),
		a.envCmd(),
		a.serviceCmd(),
		a.provisionCmd(),
		a.dbCmd(),
	)
	return root
}

// exactArgs wraps cobra.ExactArgs so violations exit 2.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		return nil
	}
}
