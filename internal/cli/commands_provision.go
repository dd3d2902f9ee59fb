package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostkit-platform/hostkit/internal/adapter/systemd"
	"github.com/hostkit-platform/hostkit/internal/domain/project"
	"github.com/hostkit-platform/hostkit/internal/service"
)

var sidecarFlags = map[string]systemd.UnitKind{
	"chatbot":  systemd.KindChatbot,
	"sms":      systemd.KindSMS,
	"booking":  systemd.KindBooking,
	"payments": systemd.KindPayments,
	"vector":   systemd.KindVector,
}

func (a *app) provisionCmd() *cobra.Command {
	var (
		runtime        string
		withDatabase   bool
		withVector     bool
		withAuth       bool
		sidecars       []string
		withSecrets    bool
		sshKeys        []string
		sshKeysFromURL string
		deploySource   string
		start          bool
	)
	cmd := &cobra.Command{
		Use:   "provision <name>",
		Short: "Build a complete project from nothing",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			req := service.ProvisionRequest{
				Name:            args[0],
				Runtime:         project.Runtime(runtime),
				CreateDatabase:  withDatabase,
				VectorExtension: withVector,
				EnableAuth:      withAuth,
				InjectSecrets:   withSecrets,
				SSHKeys:         sshKeys,
				SSHKeysFromURL:  sshKeysFromURL,
				DeploySource:    deploySource,
				Start:           start,
			}
			for _, name := range sidecars {
				kind, ok := sidecarFlags[name]
				if !ok {
					return fmt.Errorf("%w: unknown sidecar %q", ErrUsage, name)
				}
				req.Sidecars = append(req.Sidecars, kind)
			}

			result, err := a.Provision.Provision(c.Context(), req)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("project %s provisioned on port %d (%d step(s) completed)",
				result.Project, result.Port, len(result.StepsCompleted))
			a.fmt.Success(msg, result)
			for _, step := range result.StepsFailed {
				a.fmt.Printf("failed: %s: %s\n", step, result.StepErrors[step])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runtime, "runtime", "python", "runtime (python, node, nextjs, static)")
	cmd.Flags().BoolVar(&withDatabase, "with-database", false, "create a PostgreSQL database")
	cmd.Flags().BoolVar(&withVector, "with-vector", false, "enable the vector extension on the database")
	cmd.Flags().BoolVar(&withAuth, "with-auth", false, "enable the auth sidecar")
	cmd.Flags().StringSliceVar(&sidecars, "sidecar", nil, "enable a sidecar (chatbot, sms, booking, payments, vector)")
	cmd.Flags().BoolVar(&withSecrets, "with-secrets", false, "inject secrets from the vault")
	cmd.Flags().StringSliceVar(&sshKeys, "ssh-key", nil, "authorized_keys line (repeatable)")
	cmd.Flags().StringVar(&sshKeysFromURL, "ssh-keys-url", "", "fetch public keys from a forge endpoint")
	cmd.Flags().StringVar(&deploySource, "deploy", "", "deploy from a local source directory after setup")
	cmd.Flags().BoolVar(&start, "start", false, "start the service when provisioning completes")
	return cmd
}
