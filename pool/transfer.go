package pool

import "context"

// CopyInput describes a content transfer between the caller and a device.
// Direction is given by the method it is passed to: Send copies Source on
// the caller side to Destination on the device, Receive the reverse.
type CopyInput struct {
	Source      string
	Destination string
	Recursive   bool
}

// ContentTransferAgent moves files to and from one device.
type ContentTransferAgent interface {
	Send(ctx context.Context, input CopyInput) error
	Receive(ctx context.Context, input CopyInput) error
	Close() error
}

// ContentTransferAgentFactory creates transfer agents bound to a provision,
// an established connection, and the device it reaches.
type ContentTransferAgentFactory interface {
	Connect(ctx context.Context, provisionID string, conn Connection, host Host) (ContentTransferAgent, error)
	Close() error
}
