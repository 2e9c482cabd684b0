package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gammadia/devicepool/cmd/devpool/ui"
	"github.com/gammadia/devicepool/connection/sshconn"
	"github.com/gammadia/devicepool/namegen"
	"github.com/gammadia/devicepool/pool"
	"github.com/gammadia/devicepool/poolfile"
	"github.com/gammadia/devicepool/provision/local"
	"github.com/gammadia/devicepool/transfer/s3"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] -- COMMAND [ARGS...]",
	Short: "Provision devices from the poolfile and run a command on each",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pf, err := poolfile.Read(lo.Must(cmd.Flags().GetString("poolfile")))
		if err != nil {
			return err
		}

		devicePool, err := buildPool(ctx, pf)
		if err != nil {
			return err
		}
		defer devicePool.Close()

		id := lo.Must(cmd.Flags().GetString("id"))
		if id == "" {
			id = namegen.WithPrefix("provision").String()
		}
		amount := lo.Must(cmd.Flags().GetInt("amount"))

		var spinner *ui.Spinner
		if !verbose {
			spinner = ui.NewSpinner(fmt.Sprintf("Provisioning %d device(s) as '%s'", amount, id))
		}

		output, err := devicePool.Provision(ctx, pool.ProvisionInput{ID: id, Amount: amount})
		if err != nil {
			spinner.Fail()
			return err
		}
		defer devicePool.Release(context.WithoutCancel(ctx), output)

		if output, err = waitForProvision(ctx, devicePool, output); err != nil {
			spinner.Fail()
			return err
		}
		spinner.Success()

		devices, err := devicePool.Obtain(ctx, output)
		if err != nil {
			return err
		}
		defer func() {
			for _, device := range devices {
				_ = device.Close()
			}
		}()

		for _, send := range lo.Must(cmd.Flags().GetStringArray("send")) {
			source, destination, found := strings.Cut(send, ":")
			if !found {
				return fmt.Errorf("invalid --send '%s', expected SOURCE:DESTINATION", send)
			}
			info, err := os.Stat(source)
			if err != nil {
				return err
			}
			for _, device := range devices {
				if err = device.CopyTo(ctx, pool.CopyInput{
					Source:      source,
					Destination: destination,
					Recursive:   info.IsDir(),
				}); err != nil {
					return err
				}
			}
		}

		input := pool.CommandInput{
			Line:    args[0],
			Args:    args[1:],
			Timeout: lo.Must(cmd.Flags().GetDuration("timeout")),
		}

		var failed []string
		for _, device := range devices {
			cmd.Println(color.HiCyanString("--- %s ---", device.ID()))
			result, err := device.Execute(ctx, input)
			if err != nil {
				return err
			}
			cmd.OutOrStdout().Write(result.Stdout)
			cmd.ErrOrStderr().Write(result.Stderr)
			if !result.OK() {
				cmd.Println(color.HiRedString("exit code %d", result.ExitCode))
				failed = append(failed, device.ID())
			}
		}

		if len(failed) > 0 {
			return fmt.Errorf("command failed on %s", strings.Join(failed, ", "))
		}
		return nil
	},
}

func init() {
	flags := execCmd.Flags()
	flags.IntP("amount", "n", 1, "number of devices to provision")
	flags.String("id", "", "provision id (generated when empty)")
	flags.Duration("timeout", 0, "per-command timeout (no limit when zero)")
	flags.StringArray("send", nil, "copy SOURCE:DESTINATION to every device before running")
}

// buildPool wires the local back-end, the SSH connection factory, and the
// optional S3 transfer factory declared by the poolfile.
func buildPool(ctx context.Context, pf poolfile.Poolfile) (*pool.BasePool, error) {
	service, err := local.New(pf.PoolConfig())
	if err != nil {
		return nil, err
	}

	connections, err := sshFactory(pf.SSH)
	if err != nil {
		_ = service.Close()
		return nil, err
	}

	var transfers pool.ContentTransferAgentFactory
	if pf.Transfer.Bucket != "" {
		client, err := s3.DefaultClient(ctx)
		if err != nil {
			_ = service.Close()
			return nil, err
		}
		if transfers, err = s3.NewFactory(s3.FactoryConfig{
			Client: client,
			Bucket: pf.Transfer.Bucket,
		}); err != nil {
			_ = service.Close()
			return nil, err
		}
	}

	return pool.New(pool.Config{
		Provisions:   service,
		Reservations: service,
		Connections:  connections,
		Transfers:    transfers,
	})
}

func sshFactory(config poolfile.SSH) (*sshconn.Factory, error) {
	if config.User == "" {
		return nil, errors.New("poolfile ssh.user is required")
	}
	if config.IdentityFile == "" {
		return nil, errors.New("poolfile ssh.identityFile is required")
	}

	key, err := os.ReadFile(config.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}

	return sshconn.NewFactory(sshconn.Config{
		User: config.User,
		Auth: []ssh.AuthMethod{ssh.PublicKeys(signer)},
	})
}

// waitForProvision polls Describe until the provision reaches a terminal
// status.
func waitForProvision(ctx context.Context, devicePool *pool.BasePool, output pool.ProvisionOutput) (pool.ProvisionOutput, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return output, ctx.Err()
		case <-ticker.C:
			current, err := devicePool.Describe(ctx, output)
			if err != nil {
				return output, err
			}
			if current.Status.Terminal() {
				if current.Status != pool.StatusSucceeded {
					return current, fmt.Errorf("provision '%s' ended %s: %s", current.ID, current.Status, current.Message)
				}
				return current, nil
			}
		}
	}
}
