// Package sshconn implements the pool connection factory over SSH. Hosts
// are dialed directly or through their proxy jump, and commands run in
// one-shot sessions with captured output and exit codes.
package sshconn

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gammadia/devicepool/pool"
	"golang.org/x/crypto/ssh"
)

type Config struct {
	// User to authenticate as. Required.
	User string
	// Auth methods, e.g. ssh.PublicKeys(...). Required.
	Auth []ssh.AuthMethod
	// HostKeyCallback defaults to ssh.InsecureIgnoreHostKey(); device pool
	// hosts are short-lived and their keys churn.
	HostKeyCallback ssh.HostKeyCallback
	// DialTimeout defaults to 10 seconds per hop.
	DialTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

type Factory struct {
	config Config
	log    *slog.Logger
}

var _ pool.ConnectionFactory = (*Factory)(nil)

func NewFactory(config Config) (*Factory, error) {
	if config.User == "" {
		return nil, pool.InvalidInputf("an SSH user is required")
	}
	if len(config.Auth) == 0 {
		return nil, pool.InvalidInputf("at least one SSH auth method is required")
	}
	if config.HostKeyCallback == nil {
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Factory{
		config: config,
		log:    config.Logger.With("component", "ssh-connections"),
	}, nil
}

// Connect dials the host, hopping through its proxy jump when one is set.
func (f *Factory) Connect(ctx context.Context, host pool.Host) (pool.Connection, error) {
	clientConfig := &ssh.ClientConfig{
		User:            f.config.User,
		Auth:            f.config.Auth,
		HostKeyCallback: f.config.HostKeyCallback,
		Timeout:         f.config.DialTimeout,
	}

	addr := net.JoinHostPort(host.Hostname, fmt.Sprint(host.Port))

	if host.ProxyJump == "" {
		client, err := ssh.Dial("tcp", addr, clientConfig)
		if err != nil {
			return nil, pool.Connectionf("failed to dial '%s': %w", addr, err)
		}
		f.log.Debug("Connected to host", "host", host.DeviceID, "address", addr)
		return &Connection{client: client, log: f.log.With("host", host.DeviceID)}, nil
	}

	jumpAddr := host.ProxyJump
	if _, _, err := net.SplitHostPort(jumpAddr); err != nil {
		jumpAddr = net.JoinHostPort(jumpAddr, "22")
	}
	jump, err := ssh.Dial("tcp", jumpAddr, clientConfig)
	if err != nil {
		return nil, pool.Connectionf("failed to dial proxy jump '%s': %w", jumpAddr, err)
	}

	conn, err := jump.Dial("tcp", addr)
	if err != nil {
		_ = jump.Close()
		return nil, pool.Connectionf("failed to dial '%s' through '%s': %w", addr, jumpAddr, err)
	}

	nc, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		_ = jump.Close()
		return nil, pool.Connectionf("failed to establish SSH over '%s': %w", addr, err)
	}

	f.log.Debug("Connected to host", "host", host.DeviceID, "address", addr, "via", jumpAddr)
	return &Connection{
		client: ssh.NewClient(nc, chans, reqs),
		jump:   jump,
		log:    f.log.With("host", host.DeviceID),
	}, nil
}

func (f *Factory) Close() error {
	return nil
}
