package pool

import (
	"context"
	"time"
)

// CommandInput describes a single command to run on a device.
type CommandInput struct {
	// Line is the executable or shell built-in to run.
	Line string
	// Args are passed verbatim; quoting is the transport's concern.
	Args []string
	// Input is fed to the command's stdin when non-nil.
	Input []byte
	// Timeout bounds the execution when positive.
	Timeout time.Duration
}

// CommandOutput is the result of a completed command.
type CommandOutput struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// OK reports whether the command exited cleanly.
func (o CommandOutput) OK() bool {
	return o.ExitCode == 0
}

// Connection is an established command channel to one device.
type Connection interface {
	Execute(ctx context.Context, input CommandInput) (CommandOutput, error)
	Close() error
}

// ConnectionFactory creates command channels. The pool calls Connect right
// after exchanging a reservation for host coordinates.
type ConnectionFactory interface {
	Connect(ctx context.Context, host Host) (Connection, error)
	Close() error
}
