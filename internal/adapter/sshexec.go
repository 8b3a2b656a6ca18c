package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultSSHPort        = 22
	defaultSSHDialTimeout = 5 * time.Second
)

// SSHConfig holds connection settings for the SSH executor
type SSHConfig struct {
	User string
	Port int
	// PrivateKey is a PEM encoded private key
	PrivateKey []byte
	// Passphrase decrypts PrivateKey when set
	Passphrase []byte
	// KnownHostsPath enables host key verification when set.
	// Empty means host keys are not checked.
	KnownHostsPath string
	// DialTimeout bounds TCP connect plus handshake
	DialTimeout time.Duration
}

// SSHExecutor implements RemoteExecutor over SSH.
// It opens one connection per Execute call.
type SSHExecutor struct {
	config    SSHConfig
	clientCfg *ssh.ClientConfig
	log       zerolog.Logger
}

// NewSSHExecutor validates the configuration and parses the key once
func NewSSHExecutor(cfg SSHConfig, log zerolog.Logger) (*SSHExecutor, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh user cannot be empty")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, fmt.Errorf("ssh private key cannot be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultSSHPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultSSHDialTimeout
	}

	var (
		signer ssh.Signer
		err    error
	)
	if len(cfg.Passphrase) > 0 {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(cfg.PrivateKey, cfg.Passphrase)
	} else {
		signer, err = ssh.ParsePrivateKey(cfg.PrivateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in verification via KnownHostsPath
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	return &SSHExecutor{
		config: cfg,
		clientCfg: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.DialTimeout,
		},
		log: log.With().Str("component", "ssh").Logger(),
	}, nil
}

// NewSSHExecutorFromKeyFile reads the private key from disk
func NewSSHExecutorFromKeyFile(cfg SSHConfig, keyPath string, log zerolog.Logger) (*SSHExecutor, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	cfg.PrivateKey = key
	return NewSSHExecutor(cfg, log)
}

// Execute connects to address and runs command, returning stdout.
// The timeout covers connect and command execution together.
func (s *SSHExecutor) Execute(ctx context.Context, address, command string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client, err := s.connect(ctx, address)
	if err != nil {
		kind := ExecKindConnect
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ExecKindTimeout
		}
		return "", &ExecError{Kind: kind, Address: address, Err: err}
	}
	defer client.Close()

	return s.runCommand(ctx, client, address, command)
}

// connect dials with context support and performs the SSH handshake
func (s *SSHExecutor) connect(ctx context.Context, host string) (*ssh.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(s.config.Port))

	dialer := &net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	// The handshake does not watch ctx; bound it with a deadline instead
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, s.clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// runCommand executes cmd in a new session and waits for it or ctx
func (s *SSHExecutor) runCommand(ctx context.Context, client *ssh.Client, address, cmd string) (string, error) {
	session, err := client.NewSession()
	if err != nil {
		return "", &ExecError{Kind: ExecKindConnect, Address: address, Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err := <-done:
		if err == nil {
			return stdout.String(), nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			s.log.Debug().Str("address", address).Int("exit_status", exitErr.ExitStatus()).
				Str("stderr", stderr.String()).Msg("Command exited non-zero")
			return stdout.String(), &ExecError{
				Kind:       ExecKindNonZeroExit,
				Address:    address,
				ExitStatus: exitErr.ExitStatus(),
				Output:     stdout.String() + stderr.String(),
				Err:        err,
			}
		}
		// Missing exit status means the connection dropped mid-command
		return "", &ExecError{Kind: ExecKindConnect, Address: address, Err: fmt.Errorf("command failed: %w", err)}
	case <-ctx.Done():
		// No signal is sent; closing the session unblocks Run and the remote
		// process is left to the host
		return "", &ExecError{Kind: ExecKindTimeout, Address: address, Err: ctx.Err()}
	}
}
