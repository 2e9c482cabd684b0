package s3

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gammadia/devicepool/pool"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mocks ---

type mockS3 struct {
	putKeys   []string
	putBodies map[string]string
	// object is served for every GetObject, whatever the key.
	object  string
	getKeys []string
}

func newMockS3() *mockS3 {
	return &mockS3{
		putBodies: map[string]string{},
	}
}

func (m *mockS3) PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Key)
	m.putKeys = append(m.putKeys, key)
	m.putBodies[key] = string(body)
	return &awss3.PutObjectOutput{}, nil
}

func (m *mockS3) GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	m.getKeys = append(m.getKeys, aws.ToString(params.Key))
	return &awss3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(m.object)),
	}, nil
}

type recordingCommand struct {
	copies []pool.CopyInput
}

func (c *recordingCommand) Copy(input pool.CopyInput) pool.CommandInput {
	c.copies = append(c.copies, input)
	return pool.CommandInput{Line: "device-copy"}
}

type mockConnection struct {
	executed []pool.CommandInput
	exitCode int
}

func (c *mockConnection) Execute(ctx context.Context, input pool.CommandInput) (pool.CommandOutput, error) {
	c.executed = append(c.executed, input)
	return pool.CommandOutput{ExitCode: c.exitCode}, nil
}

func (c *mockConnection) Close() error { return nil }

// --- Helpers ---

const bucket = "test-bucket"

func newTestAgent(t *testing.T, client S3API, conn pool.Connection, command AgentCommand) pool.ContentTransferAgent {
	t.Helper()
	factory, err := NewFactory(FactoryConfig{Client: client, Bucket: bucket, Command: command})
	require.NoError(t, err)

	agent, err := factory.Connect(context.Background(), "abc-123", conn, pool.Host{DeviceID: "dev-1"})
	require.NoError(t, err)
	return agent
}

func writeTestFile(t *testing.T, dir, name string) string {
	t.Helper()
	file := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0755))
	require.NoError(t, os.WriteFile(file, []byte("Hello World!"), 0644))
	return file
}

// assertStagingKey checks the "{provision}/{device}/{uuid}/{name}" shape and
// returns the staging id.
func assertStagingKey(t *testing.T, key, name string) string {
	t.Helper()
	parts := strings.Split(key, "/")
	require.Len(t, parts, 4)
	assert.Equal(t, "abc-123", parts[0])
	assert.Equal(t, "dev-1", parts[1])
	_, err := uuid.Parse(parts[2])
	require.NoError(t, err, "staging id '%s' is not a UUID", parts[2])
	assert.Equal(t, name, parts[3])
	return parts[2]
}

// --- Send ---

func TestSendFile(t *testing.T) {
	client := newMockS3()
	conn := &mockConnection{}
	command := &recordingCommand{}
	agent := newTestAgent(t, client, conn, command)

	source := writeTestFile(t, t.TempDir(), "test.txt")
	require.NoError(t, agent.Send(context.Background(), pool.CopyInput{
		Source:      source,
		Destination: "test.txt",
	}))

	require.Len(t, client.putKeys, 1)
	stage := assertStagingKey(t, client.putKeys[0], "test.txt")
	assert.Equal(t, "Hello World!", client.putBodies[client.putKeys[0]])

	require.Len(t, command.copies, 1)
	assert.Equal(t, "s3://test-bucket/abc-123/dev-1/"+stage+"/test.txt", command.copies[0].Source)
	assert.Equal(t, "test.txt", command.copies[0].Destination)

	require.Len(t, conn.executed, 1)
	assert.Equal(t, "device-copy", conn.executed[0].Line)
}

func TestSendDirectoryIsRecursive(t *testing.T) {
	client := newMockS3()
	conn := &mockConnection{}
	command := &recordingCommand{}
	agent := newTestAgent(t, client, conn, command)

	dir := t.TempDir()
	writeTestFile(t, dir, "test.txt")
	writeTestFile(t, dir, filepath.Join("b", "test.txt"))

	require.NoError(t, agent.Send(context.Background(), pool.CopyInput{
		Source:      dir,
		Destination: "a",
		Recursive:   true,
	}))

	// One staged object per file, each under its own staging id.
	require.Len(t, client.putKeys, 2)
	stages := lo.Map(client.putKeys, func(key string, _ int) string {
		return assertStagingKey(t, key, "test.txt")
	})
	assert.NotEqual(t, stages[0], stages[1])

	// Every device copy targets the caller's destination.
	require.Len(t, command.copies, 2)
	for _, copy := range command.copies {
		assert.Equal(t, "a", copy.Destination)
	}
}

func TestSendDirectoryRequiresRecursive(t *testing.T) {
	agent := newTestAgent(t, newMockS3(), &mockConnection{}, &recordingCommand{})

	err := agent.Send(context.Background(), pool.CopyInput{Source: t.TempDir(), Destination: "a"})
	var transfer *pool.ContentTransferError
	assert.ErrorAs(t, err, &transfer)
}

func TestSendFailsOnDeviceCopyFailure(t *testing.T) {
	client := newMockS3()
	conn := &mockConnection{exitCode: 1}
	agent := newTestAgent(t, client, conn, &recordingCommand{})

	source := writeTestFile(t, t.TempDir(), "test.txt")
	err := agent.Send(context.Background(), pool.CopyInput{Source: source, Destination: "test.txt"})
	var transfer *pool.ContentTransferError
	assert.ErrorAs(t, err, &transfer)
}

// --- Receive ---

func TestReceive(t *testing.T) {
	client := newMockS3()
	conn := &mockConnection{}
	command := &recordingCommand{}
	agent := newTestAgent(t, client, conn, command)

	destination := filepath.Join(t.TempDir(), "d", "test.txt")
	client.object = "Hello World!"

	require.NoError(t, agent.Receive(context.Background(), pool.CopyInput{
		Source:      "/var/log/test.txt",
		Destination: destination,
	}))

	require.Len(t, command.copies, 1)
	assert.Equal(t, "/var/log/test.txt", command.copies[0].Source)
	stage := assertStagingKey(t, strings.TrimPrefix(command.copies[0].Destination, "s3://test-bucket/"), "test.txt")

	require.Len(t, client.getKeys, 1)
	assert.Equal(t, "abc-123/dev-1/"+stage+"/test.txt", client.getKeys[0])

	content, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", string(content))
}
