// Package poolfile reads the YAML file that seeds a local device pool:
// the host fleet, the provision timeout, and the SSH settings the CLI uses
// to reach the devices.
package poolfile

import (
	"fmt"
	"regexp"
	"time"

	"github.com/gammadia/devicepool/pool"
	"github.com/gammadia/devicepool/provision/local"
	"github.com/samber/lo"
)

const PoolfileVersion = "1"

type Poolfile struct {
	Version string
	// Platform is the default "os:arch" tag for hosts that don't set one.
	Platform string
	// ProvisionTimeout defaults to one hour.
	ProvisionTimeout time.Duration `yaml:"provisionTimeout"`
	// ExpireProvisions defaults to true.
	ExpireProvisions *bool `yaml:"expireProvisions"`
	Hosts            []Host
	SSH              SSH
	Transfer         Transfer
}

type Host struct {
	DeviceID  string `yaml:"deviceId"`
	Hostname  string
	Port      int
	Platform  string
	ProxyJump string `yaml:"proxyJump"`
}

type SSH struct {
	User string
	// IdentityFile is a path to a private key.
	IdentityFile string `yaml:"identityFile"`
}

type Transfer struct {
	// Bucket enables S3-staged content transfer when set.
	Bucket string
}

var deviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

func (p Poolfile) Validate() error {
	if p.Version != PoolfileVersion {
		return fmt.Errorf("unsupported version '%s'", p.Version)
	}

	if len(p.Hosts) == 0 {
		return fmt.Errorf("at least one host is required")
	}

	seen := map[string]bool{}
	for _, host := range p.Hosts {
		if !deviceIDRegex.MatchString(host.DeviceID) {
			return fmt.Errorf("host deviceId '%s' must be a valid identifier", host.DeviceID)
		}
		if seen[host.DeviceID] {
			return fmt.Errorf("duplicate host deviceId '%s'", host.DeviceID)
		}
		seen[host.DeviceID] = true

		if host.Hostname == "" {
			return fmt.Errorf("host '%s' requires a hostname", host.DeviceID)
		}
		if host.Platform == "" && p.Platform == "" {
			return fmt.Errorf("host '%s' has no platform and no default is set", host.DeviceID)
		}
		if host.Platform != "" {
			if _, err := pool.ParsePlatform(host.Platform); err != nil {
				return fmt.Errorf("host '%s': %w", host.DeviceID, err)
			}
		}
	}

	if p.Platform != "" {
		if _, err := pool.ParsePlatform(p.Platform); err != nil {
			return err
		}
	}

	return nil
}

// PoolHosts converts the declared hosts to their pool records.
func (p Poolfile) PoolHosts() []pool.Host {
	return lo.Map(p.Hosts, func(host Host, _ int) pool.Host {
		port := host.Port
		if port == 0 {
			port = 22
		}
		tag := host.Platform
		if tag == "" {
			tag = p.Platform
		}
		platform := lo.Must(pool.ParsePlatform(tag))
		return pool.Host{
			DeviceID:  host.DeviceID,
			Hostname:  host.Hostname,
			Port:      port,
			Platform:  platform,
			ProxyJump: host.ProxyJump,
		}
	})
}

// PoolConfig builds the local back-end configuration declared by the file.
func (p Poolfile) PoolConfig() local.Config {
	config := local.DefaultConfig(p.PoolHosts()...)
	if p.ProvisionTimeout > 0 {
		config.ProvisionTimeout = p.ProvisionTimeout
	}
	if p.ExpireProvisions != nil {
		config.ExpireProvisions = *p.ExpireProvisions
	}
	return config
}
