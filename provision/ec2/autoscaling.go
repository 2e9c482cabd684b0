package ec2

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	astypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/gammadia/devicepool/pool"
	"github.com/gammadia/devicepool/provision/internal"
	"github.com/samber/lo"
)

// AutoscalingAPI is the slice of the autoscaling client the adapter uses.
type AutoscalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	SetDesiredCapacity(ctx context.Context, params *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
	DetachInstances(ctx context.Context, params *autoscaling.DetachInstancesInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DetachInstancesOutput, error)
}

const healthStatusHealthy = "HEALTHY"

type AutoscalingConfig struct {
	// GroupName is the autoscaling group devices are drawn from. Required.
	GroupName string
	// Autoscaling is the autoscaling API. Required.
	Autoscaling AutoscalingAPI
	// EC2 is used by Describe to refresh reservation statuses. Required.
	EC2 DescribeInstancesAPI
	// ProvisionTimeout is the TTL of ledger entries. Defaults to one hour.
	ProvisionTimeout time.Duration
	// PollAttempts bounds the describe-group polling after growing the
	// group. Defaults to 10, with exponential backoff between attempts.
	PollAttempts int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// AutoscalingService provisions devices by detaching instances from an
// autoscaling group, growing the group first when it cannot satisfy the
// request. Provisioning is synchronous: the cloud round-trips happen inside
// Provision, and instances still pending at return time are upgraded by
// later Describe calls.
type AutoscalingService struct {
	config AutoscalingConfig
	log    *slog.Logger

	mu         sync.Mutex
	provisions map[string]*asgEntry
}

type asgEntry struct {
	output    pool.ProvisionOutput
	expiresAt time.Time
}

var _ pool.ProvisionService = (*AutoscalingService)(nil)

func NewAutoscalingService(config AutoscalingConfig) (*AutoscalingService, error) {
	if config.GroupName == "" {
		return nil, pool.InvalidInputf("an autoscaling group name is required")
	}
	if config.Autoscaling == nil {
		return nil, pool.InvalidInputf("an autoscaling client is required")
	}
	if config.EC2 == nil {
		return nil, pool.InvalidInputf("an EC2 client is required")
	}
	if config.ProvisionTimeout <= 0 {
		config.ProvisionTimeout = time.Hour
	}
	if config.PollAttempts <= 0 {
		config.PollAttempts = 10
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &AutoscalingService{
		config:     config,
		log:        config.Logger.With("component", "autoscaling-pool", "group", config.GroupName),
		provisions: make(map[string]*asgEntry),
	}, nil
}

// Provision selects healthy instances from the group, growing it first when
// there are not enough in service. Selected instances are detached from the
// group and the desired capacity is compensated afterwards.
//
// The capacity arithmetic assumes this service is the only actor scaling
// the group; concurrent external scaling can make the final set-capacity
// call over- or under-shoot.
func (s *AutoscalingService) Provision(ctx context.Context, input pool.ProvisionInput) (pool.ProvisionOutput, error) {
	if input.ID == "" {
		return pool.ProvisionOutput{}, pool.InvalidInputf("provision id must not be empty")
	}
	if input.Amount < 1 {
		return pool.ProvisionOutput{}, pool.InvalidInputf("amount must be at least 1, got %d", input.Amount)
	}

	now := time.Now()
	s.mu.Lock()
	s.expireLocked(now)
	if entry, ok := s.provisions[input.ID]; ok {
		output := entry.output
		s.mu.Unlock()
		return output, nil
	}
	s.mu.Unlock()

	group, err := s.describeGroup(ctx)
	if err != nil {
		return pool.ProvisionOutput{}, pool.NewProvisioningError(err)
	}

	previous := int(aws.ToInt32(group.DesiredCapacity))
	inService := healthyInstances(group, astypes.LifecycleStateInService)

	var selected []astypes.Instance
	var restored int
	if len(inService) >= input.Amount {
		selected = inService[:input.Amount]
		restored = previous - input.Amount
	} else {
		target := previous + (input.Amount - len(inService))
		s.log.Info("Growing autoscaling group", "desired", target, "previous", previous)
		if err = s.setDesiredCapacity(ctx, target); err != nil {
			return pool.ProvisionOutput{}, pool.NewProvisioningError(err)
		}

		selected, err = internal.RetryResult(ctx, s.config.PollAttempts, func() ([]astypes.Instance, error) {
			group, err := s.describeGroup(ctx)
			if err != nil {
				return nil, err
			}
			healthy := healthyInstances(group)
			if len(healthy) < input.Amount {
				return nil, fmt.Errorf("group '%s' has %d of %d healthy instances", s.config.GroupName, len(healthy), input.Amount)
			}
			return healthy[:input.Amount], nil
		})
		if err != nil {
			return pool.ProvisionOutput{}, pool.NewProvisioningError(err)
		}
		restored = previous
	}

	reservations := lo.Map(selected, func(instance astypes.Instance, _ int) pool.Reservation {
		status := pool.StatusProvisioning
		if instance.LifecycleState == astypes.LifecycleStateInService {
			status = pool.StatusSucceeded
		}
		return pool.Reservation{DeviceID: aws.ToString(instance.InstanceId), Status: status}
	})

	ids := lo.Map(reservations, func(r pool.Reservation, _ int) string { return r.DeviceID })
	if _, err = s.config.Autoscaling.DetachInstances(ctx, &autoscaling.DetachInstancesInput{
		AutoScalingGroupName:           aws.String(s.config.GroupName),
		InstanceIds:                    ids,
		ShouldDecrementDesiredCapacity: aws.Bool(false),
	}); err != nil {
		return pool.ProvisionOutput{}, pool.NewProvisioningError(err)
	}
	if err = s.setDesiredCapacity(ctx, restored); err != nil {
		return pool.ProvisionOutput{}, pool.NewProvisioningError(err)
	}
	s.log.Info("Detached instances from group", "instances", ids, "desired", restored)

	output := pool.ProvisionOutput{
		ID:           input.ID,
		Status:       overallStatus(reservations),
		Reservations: reservations,
	}
	s.mu.Lock()
	s.provisions[input.ID] = &asgEntry{output: output, expiresAt: now.Add(s.config.ProvisionTimeout)}
	s.mu.Unlock()
	return output, nil
}

// Describe refreshes the provision's reservations from EC2: instances that
// reached RUNNING become SUCCEEDED, terminated or stopped ones FAILED.
func (s *AutoscalingService) Describe(ctx context.Context, output pool.ProvisionOutput) (pool.ProvisionOutput, error) {
	s.mu.Lock()
	s.expireLocked(time.Now())
	if entry, ok := s.provisions[output.ID]; ok {
		output = entry.output
	}
	s.mu.Unlock()

	if len(output.Reservations) == 0 {
		return output, nil
	}

	response, err := s.config.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: lo.Map(output.Reservations, func(r pool.Reservation, _ int) string { return r.DeviceID }),
	})
	if err != nil {
		return pool.ProvisionOutput{}, pool.NewProvisioningError(err)
	}

	codes := make(map[string]int32)
	for _, reservation := range response.Reservations {
		for _, instance := range reservation.Instances {
			if instance.State != nil {
				codes[aws.ToString(instance.InstanceId)] = aws.ToInt32(instance.State.Code)
			}
		}
	}

	output.Reservations = lo.Map(output.Reservations, func(r pool.Reservation, _ int) pool.Reservation {
		if r.Status.Terminal() {
			return r
		}
		switch codes[r.DeviceID] {
		case instanceStateRunning:
			r.Status = pool.StatusSucceeded
		case instanceStateTerminated, instanceStateStopped:
			r.Status = pool.StatusFailed
		}
		return r
	})
	output.Status = overallStatus(output.Reservations)

	s.mu.Lock()
	if entry, ok := s.provisions[output.ID]; ok {
		entry.output = output
	}
	s.mu.Unlock()
	return output, nil
}

// Release drops the provision from the ledger. Detached instances are not
// terminated: once out of the group they belong to the caller.
func (s *AutoscalingService) Release(ctx context.Context, output pool.ProvisionOutput) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.provisions[output.ID]
	if !ok {
		return 0, nil
	}
	delete(s.provisions, output.ID)
	return len(entry.output.Succeeded()), nil
}

// Extend pushes the provision expiry by one provision timeout.
func (s *AutoscalingService) Extend(ctx context.Context, output pool.ProvisionOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.provisions[output.ID]; ok {
		entry.expiresAt = entry.expiresAt.Add(s.config.ProvisionTimeout)
	}
	return nil
}

func (s *AutoscalingService) Close() error {
	return nil
}

// expireLocked lazily drops expired ledger entries. There is no inventory
// to return instances to, so expiry is bookkeeping only.
func (s *AutoscalingService) expireLocked(now time.Time) {
	for id, entry := range s.provisions {
		if entry.expiresAt.Before(now) {
			s.log.Info("Expired provision", "id", id)
			delete(s.provisions, id)
		}
	}
}

func (s *AutoscalingService) describeGroup(ctx context.Context) (astypes.AutoScalingGroup, error) {
	response, err := s.config.Autoscaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{s.config.GroupName},
	})
	if err != nil {
		return astypes.AutoScalingGroup{}, err
	}
	if len(response.AutoScalingGroups) == 0 {
		return astypes.AutoScalingGroup{}, fmt.Errorf("autoscaling group '%s' does not exist", s.config.GroupName)
	}
	return response.AutoScalingGroups[0], nil
}

func (s *AutoscalingService) setDesiredCapacity(ctx context.Context, desired int) error {
	_, err := s.config.Autoscaling.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
		AutoScalingGroupName: aws.String(s.config.GroupName),
		DesiredCapacity:      aws.Int32(int32(desired)),
	})
	return err
}

// healthyInstances filters the group down to healthy instances, optionally
// restricted to the given lifecycle states.
func healthyInstances(group astypes.AutoScalingGroup, states ...astypes.LifecycleState) []astypes.Instance {
	return lo.Filter(group.Instances, func(instance astypes.Instance, _ int) bool {
		if aws.ToString(instance.HealthStatus) != healthStatusHealthy {
			return false
		}
		if len(states) == 0 {
			return true
		}
		return lo.Contains(states, instance.LifecycleState)
	})
}

func overallStatus(reservations []pool.Reservation) pool.Status {
	succeeded := 0
	for _, r := range reservations {
		switch r.Status {
		case pool.StatusFailed:
			return pool.StatusFailed
		case pool.StatusSucceeded:
			succeeded++
		}
	}
	if succeeded == len(reservations) && len(reservations) > 0 {
		return pool.StatusSucceeded
	}
	return pool.StatusProvisioning
}
