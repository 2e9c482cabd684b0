package sshconn

import (
	"bytes"
	"context"
	"errors"
	"log/slog"

	"github.com/alessio/shellescape"
	"github.com/gammadia/devicepool/pool"
	"golang.org/x/crypto/ssh"
)

// Connection is an established SSH channel to one device. Each Execute runs
// in its own session; the underlying client is shared.
type Connection struct {
	client *ssh.Client
	// jump is the proxy hop client, when one was used to reach the host.
	jump *ssh.Client
	log  *slog.Logger
}

var _ pool.Connection = (*Connection)(nil)

func (c *Connection) Execute(ctx context.Context, input pool.CommandInput) (pool.CommandOutput, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return pool.CommandOutput{}, pool.Connectionf("failed to open session: %w", err)
	}
	defer session.Close()

	if input.Input != nil {
		session.Stdin = bytes.NewReader(input.Input)
	}
	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if input.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, input.Timeout)
		defer cancel()
	}

	command := shellescape.QuoteCommand(append([]string{input.Line}, input.Args...))
	c.log.Debug("Executing command", "command", command)

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return pool.CommandOutput{}, pool.Connectionf("command interrupted: %w", ctx.Err())

	case err = <-done:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return pool.CommandOutput{
				ExitCode: exitErr.ExitStatus(),
				Stdout:   stdout.Bytes(),
				Stderr:   stderr.Bytes(),
			}, nil
		}
		if err != nil {
			return pool.CommandOutput{}, pool.Connectionf("command failed: %w", err)
		}
		return pool.CommandOutput{
			Stdout: stdout.Bytes(),
			Stderr: stderr.Bytes(),
		}, nil
	}
}

func (c *Connection) Close() error {
	var errs []error
	errs = append(errs, c.client.Close())
	if c.jump != nil {
		errs = append(errs, c.jump.Close())
	}
	return errors.Join(errs...)
}
