// Package ec2 implements the AWS-backed device pool adapters: a reservation
// service that resolves instance ids into host coordinates through EC2
// describe calls, and a provision service that grows and drains an
// autoscaling group to supply devices.
package ec2

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/gammadia/devicepool/pool"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
)

// DescribeInstancesAPI is the slice of the EC2 client the adapters use.
type DescribeInstancesAPI interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// EC2 instance state codes, per the DescribeInstances API.
const (
	instanceStateRunning    = 16
	instanceStateTerminated = 48
	instanceStateStopped    = 80
)

type ReservationConfig struct {
	// Client is the EC2 API. Required.
	Client DescribeInstancesAPI
	// Platform is the platform reported for every host unless HostPlatform
	// overrides it per instance.
	Platform pool.PlatformOS
	// ProxyJump is copied onto every host. Optional.
	ProxyJump string
	// Port defaults to 22.
	Port int
	// HostAddress extracts the reachable address from an instance.
	// Defaults to the public IP address.
	HostAddress func(ec2types.Instance) string
	// HostPlatform extracts the platform from an instance. Defaults to
	// Platform for every instance.
	HostPlatform func(ec2types.Instance) pool.PlatformOS
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ReservationService exchanges instance-id reservations for host
// coordinates by describing the instance.
type ReservationService struct {
	config ReservationConfig
	log    *slog.Logger
}

var _ pool.ReservationService = (*ReservationService)(nil)

func NewReservationService(config ReservationConfig) (*ReservationService, error) {
	if config.Client == nil {
		return nil, pool.InvalidInputf("an EC2 client is required")
	}
	if config.Port == 0 {
		config.Port = 22
	}
	if config.HostAddress == nil {
		config.HostAddress = func(instance ec2types.Instance) string {
			if instance.PublicIpAddress == nil {
				return ""
			}
			return *instance.PublicIpAddress
		}
	}
	if config.HostPlatform == nil {
		platform := config.Platform
		config.HostPlatform = func(ec2types.Instance) pool.PlatformOS {
			return platform
		}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &ReservationService{
		config: config,
		log:    config.Logger.With("component", "ec2-reservations"),
	}, nil
}

// Exchange describes the reserved instance and maps it to a Host.
func (s *ReservationService) Exchange(ctx context.Context, reservation pool.Reservation) (pool.Host, error) {
	response, err := s.config.Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{reservation.DeviceID},
	})
	if err != nil {
		return pool.Host{}, pool.NewReservationError(err)
	}

	for _, r := range response.Reservations {
		for _, instance := range r.Instances {
			return s.convertHost(instance), nil
		}
	}
	return pool.Host{}, pool.Reservationf("could not find instance '%s'", reservation.DeviceID)
}

func (s *ReservationService) Close() error {
	return nil
}

func (s *ReservationService) convertHost(instance ec2types.Instance) pool.Host {
	var deviceID string
	if instance.InstanceId != nil {
		deviceID = *instance.InstanceId
	}
	return pool.Host{
		DeviceID:  deviceID,
		Hostname:  s.config.HostAddress(instance),
		Port:      s.config.Port,
		Platform:  s.config.HostPlatform(instance),
		ProxyJump: s.config.ProxyJump,
	}
}

// DefaultClients builds EC2 and autoscaling clients from the ambient AWS
// configuration (environment, shared config, instance role).
func DefaultClients(ctx context.Context) (*ec2.Client, *autoscaling.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ec2.NewFromConfig(cfg), autoscaling.NewFromConfig(cfg), nil
}
