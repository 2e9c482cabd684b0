package ec2

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/gammadia/devicepool/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEC2 struct {
	response *ec2.DescribeInstancesOutput
	err      error
	requests []*ec2.DescribeInstancesInput
}

func (m *mockEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	m.requests = append(m.requests, params)
	return m.response, m.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func instancesResponse(instances ...ec2types.Instance) *ec2.DescribeInstancesOutput {
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: instances}},
	}
}

func TestNewReservationServiceRequiresClient(t *testing.T) {
	_, err := NewReservationService(ReservationConfig{})
	var invalid *pool.InvalidInputError
	assert.ErrorAs(t, err, &invalid)
}

func TestExchangeMapsInstanceToHost(t *testing.T) {
	client := &mockEC2{response: instancesResponse(ec2types.Instance{
		InstanceId:      aws.String("i-abcedfgabc"),
		PublicIpAddress: aws.String("203.0.113.7"),
	})}
	service, err := NewReservationService(ReservationConfig{
		Client:    client,
		Platform:  pool.PlatformOS{OS: "linux", Arch: "amd64"},
		ProxyJump: "bastion.example.com",
		Logger:    testLogger(),
	})
	require.NoError(t, err)

	host, err := service.Exchange(context.Background(), pool.Reservation{DeviceID: "i-abcedfgabc", Status: pool.StatusSucceeded})
	require.NoError(t, err)

	assert.Equal(t, "i-abcedfgabc", host.DeviceID)
	assert.Equal(t, "203.0.113.7", host.Hostname)
	assert.Equal(t, 22, host.Port)
	assert.Equal(t, pool.PlatformOS{OS: "linux", Arch: "amd64"}, host.Platform)
	assert.Equal(t, "bastion.example.com", host.ProxyJump)

	require.Len(t, client.requests, 1)
	assert.Equal(t, []string{"i-abcedfgabc"}, client.requests[0].InstanceIds)
}

func TestExchangeCustomExtractors(t *testing.T) {
	client := &mockEC2{response: instancesResponse(ec2types.Instance{
		InstanceId:       aws.String("i-abcedfgabc"),
		PrivateIpAddress: aws.String("10.0.0.7"),
	})}
	service, err := NewReservationService(ReservationConfig{
		Client: client,
		Port:   2222,
		HostAddress: func(instance ec2types.Instance) string {
			return aws.ToString(instance.PrivateIpAddress)
		},
		HostPlatform: func(ec2types.Instance) pool.PlatformOS {
			return pool.PlatformOS{OS: "linux", Arch: "arm64"}
		},
		Logger: testLogger(),
	})
	require.NoError(t, err)

	host, err := service.Exchange(context.Background(), pool.Reservation{DeviceID: "i-abcedfgabc"})
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.7", host.Hostname)
	assert.Equal(t, 2222, host.Port)
	assert.Equal(t, "arm64", host.Platform.Arch)
}

func TestExchangeMissingInstance(t *testing.T) {
	client := &mockEC2{response: &ec2.DescribeInstancesOutput{}}
	service, err := NewReservationService(ReservationConfig{Client: client, Logger: testLogger()})
	require.NoError(t, err)

	_, err = service.Exchange(context.Background(), pool.Reservation{DeviceID: "i-gone"})
	var reservation *pool.ReservationError
	assert.ErrorAs(t, err, &reservation)
}

func TestExchangeWrapsAPIError(t *testing.T) {
	cause := errors.New("throttled")
	service, err := NewReservationService(ReservationConfig{Client: &mockEC2{err: cause}, Logger: testLogger()})
	require.NoError(t, err)

	_, err = service.Exchange(context.Background(), pool.Reservation{DeviceID: "i-abcedfgabc"})
	var reservation *pool.ReservationError
	require.ErrorAs(t, err, &reservation)
	assert.ErrorIs(t, err, cause)
}
