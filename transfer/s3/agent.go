package s3

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gammadia/devicepool/pool"
	"github.com/google/uuid"
)

// AgentCommand builds the command run on the device to move content between
// the staging bucket and the device filesystem.
type AgentCommand interface {
	Copy(input pool.CopyInput) pool.CommandInput
}

// AWSCLICommand copies with the AWS CLI installed on the device.
type AWSCLICommand struct{}

func (AWSCLICommand) Copy(input pool.CopyInput) pool.CommandInput {
	args := []string{"s3", "cp", input.Source, input.Destination}
	if input.Recursive {
		args = append(args, "--recursive")
	}
	return pool.CommandInput{Line: "aws", Args: args}
}

// Agent moves files between the caller and one device through the staging
// bucket. Every transferred file gets its own staging id, so concurrent
// transfers never collide.
type Agent struct {
	client  S3API
	conn    pool.Connection
	bucket  string
	prefix  string
	command AgentCommand
	log     *slog.Logger
}

var _ pool.ContentTransferAgent = (*Agent)(nil)

// Send copies input.Source on the caller side to input.Destination on the
// device. Directories require input.Recursive and are sent file by file,
// each under a distinct staging id, all targeting the caller's destination.
func (a *Agent) Send(ctx context.Context, input pool.CopyInput) error {
	info, err := os.Stat(input.Source)
	if err != nil {
		return pool.NewContentTransferError(err)
	}

	if !info.IsDir() {
		return a.sendFile(ctx, input.Source, input.Destination)
	}
	if !input.Recursive {
		return pool.ContentTransferf("'%s' is a directory, recursive copy required", input.Source)
	}

	return filepath.WalkDir(input.Source, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return pool.NewContentTransferError(err)
		}
		if d.IsDir() {
			return nil
		}
		return a.sendFile(ctx, file, input.Destination)
	})
}

// Receive copies input.Source on the device to input.Destination on the
// caller side: the device pushes to the staging bucket, then the object is
// downloaded locally.
func (a *Agent) Receive(ctx context.Context, input pool.CopyInput) error {
	key := a.stagingKey(path.Base(input.Source))
	if err := a.deviceCopy(ctx, input.Source, a.url(key)); err != nil {
		return err
	}

	object, err := a.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return pool.NewContentTransferError(err)
	}
	defer object.Body.Close()

	if err = os.MkdirAll(filepath.Dir(input.Destination), 0755); err != nil {
		return pool.NewContentTransferError(err)
	}
	file, err := os.Create(input.Destination)
	if err != nil {
		return pool.NewContentTransferError(err)
	}
	defer file.Close()

	if _, err = io.Copy(file, object.Body); err != nil {
		return pool.NewContentTransferError(err)
	}
	a.log.Debug("Received file", "source", input.Source, "destination", input.Destination)
	return nil
}

func (a *Agent) Close() error {
	return nil
}

func (a *Agent) sendFile(ctx context.Context, file, destination string) error {
	key := a.stagingKey(filepath.Base(file))

	reader, err := os.Open(file)
	if err != nil {
		return pool.NewContentTransferError(err)
	}
	defer reader.Close()

	if _, err = a.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   reader,
	}); err != nil {
		return pool.NewContentTransferError(err)
	}
	a.log.Debug("Staged file", "file", file, "key", key)

	return a.deviceCopy(ctx, a.url(key), destination)
}

// deviceCopy runs the copy command on the device and checks its exit code.
func (a *Agent) deviceCopy(ctx context.Context, source, destination string) error {
	output, err := a.conn.Execute(ctx, a.command.Copy(pool.CopyInput{
		Source:      source,
		Destination: destination,
	}))
	if err != nil {
		return pool.NewContentTransferError(err)
	}
	if !output.OK() {
		return pool.ContentTransferf("copy exited with %d: %s", output.ExitCode, output.Stderr)
	}
	return nil
}

// stagingKey builds "{prefix}/{uuid}/{name}".
func (a *Agent) stagingKey(name string) string {
	return path.Join(a.prefix, uuid.NewString(), name)
}

func (a *Agent) url(key string) string {
	return fmt.Sprintf("s3://%s/%s", a.bucket, key)
}
