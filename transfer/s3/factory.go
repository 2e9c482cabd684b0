// Package s3 implements the content transfer agent over an S3 staging
// bucket: content sent to a device is uploaded under a per-transfer staging
// key, then pulled from the device with a copy command run over its
// connection. Receiving runs the same dance in reverse.
package s3

import (
	"context"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gammadia/devicepool/pool"
)

// S3API is the slice of the S3 client the agent uses.
type S3API interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
}

type FactoryConfig struct {
	// Client is the S3 API. Required.
	Client S3API
	// Bucket is the staging bucket. Required.
	Bucket string
	// Command builds the device-side copy command. Defaults to AWSCLICommand.
	Command AgentCommand
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type Factory struct {
	config FactoryConfig
	log    *slog.Logger
}

var _ pool.ContentTransferAgentFactory = (*Factory)(nil)

func NewFactory(config FactoryConfig) (*Factory, error) {
	if config.Client == nil {
		return nil, pool.InvalidInputf("an S3 client is required")
	}
	if config.Bucket == "" {
		return nil, pool.InvalidInputf("a staging bucket is required")
	}
	if config.Command == nil {
		config.Command = AWSCLICommand{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Factory{
		config: config,
		log:    config.Logger.With("component", "s3-transfers"),
	}, nil
}

// Connect binds an agent to a provision and the device it reaches. Staged
// objects live under "{provisionID}/{deviceID}/".
func (f *Factory) Connect(ctx context.Context, provisionID string, conn pool.Connection, host pool.Host) (pool.ContentTransferAgent, error) {
	return &Agent{
		client:  f.config.Client,
		conn:    conn,
		bucket:  f.config.Bucket,
		prefix:  provisionID + "/" + host.DeviceID,
		command: f.config.Command,
		log:     f.log.With("provision", provisionID, "host", host.DeviceID),
	}, nil
}

func (f *Factory) Close() error {
	return nil
}

// DefaultClient builds an S3 client from the ambient AWS configuration.
func DefaultClient(ctx context.Context) (*awss3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return awss3.NewFromConfig(cfg), nil
}
