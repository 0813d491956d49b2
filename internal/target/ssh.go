package target

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	consts "github.com/khanhnv2901/seca-compliance/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHConfig carries the connection parameters for a remote target.
type SSHConfig struct {
	Host string
	Port int
	User string

	IdentityFile string
	Passphrase   string
	Password     string
	UseAgent     bool

	KnownHostsFile string
	Insecure       bool

	DialTimeout    time.Duration
	CommandTimeout time.Duration
	MaxOutput      int

	// BreakerFailures is the number of consecutive transport failures after
	// which commands fail fast until BreakerCooldown elapses.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	OnBreakerChange func(name string, from, to gobreaker.State)

	Logger *zap.Logger
}

// Address returns host:port.
func (c SSHConfig) Address() string {
	port := c.Port
	if port <= 0 {
		port = consts.DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SSH runs commands over a single shared SSH connection. Each command gets its
// own session on that connection; the connection itself is never re-dialed.
type SSH struct {
	cfg     SSHConfig
	client  *ssh.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	mu        sync.Mutex
	closed    bool
	agentConn net.Conn
}

// DialSSH establishes the connection. A failure here is fatal for a run since
// no check can proceed without a target.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSH, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: ssh host is required", sharedErrors.ErrInvalidTargetSpec)
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("%w: ssh user is required", sharedErrors.ErrInvalidTargetSpec)
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = consts.DefaultDialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = consts.DefaultCommandTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = consts.MaxStreamBytes
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &SSH{cfg: cfg, logger: logger}

	auth, err := t.authMethods()
	if err != nil {
		return nil, err
	}
	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		t.closeAgent()
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.DialTimeout,
	}

	address := cfg.Address()
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		t.closeAgent()
		return nil, fmt.Errorf("%w: dial %s: %v", sharedErrors.ErrTargetUnavailable, address, err)
	}
	// Bound the handshake; cleared once the client is up.
	_ = conn.SetDeadline(time.Now().Add(cfg.DialTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		conn.Close()
		t.closeAgent()
		return nil, fmt.Errorf("%w: ssh handshake with %s: %v", sharedErrors.ErrTargetUnavailable, address, err)
	}
	_ = conn.SetDeadline(time.Time{})
	t.client = ssh.NewClient(sshConn, chans, reqs)

	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ssh:" + address,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about the connection.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ssh_breaker_state_change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if cfg.OnBreakerChange != nil {
				cfg.OnBreakerChange(name, from, to)
			}
		},
	})

	logger.Info("ssh_connected", zap.String("address", address), zap.String("user", cfg.User))
	return t, nil
}

func (s *SSH) Execute(ctx context.Context, command string) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, &TransportError{Op: "exec", Command: command, Err: err}
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Output{}, &TransportError{Op: "exec", Command: command, Err: errors.New("connection closed")}
	}

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.run(ctx, command)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Output{}, &TransportError{Op: "session", Command: command, Err: fmt.Errorf("transport unhealthy: %w", err)}
		}
		return Output{}, err
	}
	return res.(Output), nil
}

func (s *SSH) run(ctx context.Context, command string) (Output, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return Output{}, &TransportError{Op: "session", Command: command, Err: err}
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &limitWriter{buf: &stdout, limit: s.cfg.MaxOutput}
	sess.Stderr = &limitWriter{buf: &stderr, limit: s.cfg.MaxOutput}

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case runErr := <-done:
		exitCode := 0
		if runErr != nil {
			var exitErr *ssh.ExitError
			if !errors.As(runErr, &exitErr) {
				return Output{}, &TransportError{Op: "exec", Command: command, Err: runErr}
			}
			exitCode = exitErr.ExitStatus()
		}
		return Output{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
	case <-timer.C:
		_ = sess.Signal(ssh.SIGKILL)
		s.logger.Warn("ssh_command_timeout", zap.String("command", truncate(command, 80)), zap.Duration("timeout", s.cfg.CommandTimeout))
		return Output{}, &TransportError{Op: "exec", Command: command, Err: fmt.Errorf("command timed out after %s", s.cfg.CommandTimeout)}
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return Output{}, &TransportError{Op: "exec", Command: command, Err: ctx.Err()}
	}
}

func (s *SSH) Kind() Kind      { return KindRemote }
func (s *SSH) Exclusive() bool { return true }

func (s *SSH) String() string {
	return fmt.Sprintf("ssh://%s@%s", s.cfg.User, s.cfg.Address())
}

// BreakerState exposes the transport breaker state for metrics.
func (s *SSH) BreakerState() gobreaker.State {
	return s.breaker.State()
}

func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.closeAgentLocked()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *SSH) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if s.cfg.IdentityFile != "" {
		signer, err := loadSigner(s.cfg.IdentityFile, s.cfg.Passphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if s.cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				s.logger.Warn("ssh_agent_unavailable", zap.Error(err))
			} else {
				s.agentConn = conn
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if s.cfg.Password != "" {
		password := s.cfg.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no ssh authentication method configured (identity file, agent or password)", sharedErrors.ErrInvalidTargetSpec)
	}
	return methods, nil
}

func (s *SSH) closeAgent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeAgentLocked()
}

func (s *SSH) closeAgentLocked() {
	if s.agentConn != nil {
		_ = s.agentConn.Close()
		s.agentConn = nil
	}
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		if passphrase == "" {
			return nil, fmt.Errorf("identity file %s is encrypted and no passphrase was given", path)
		}
		signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("decrypt identity file: %w", err)
		}
		return signer, nil
	}
	return nil, fmt.Errorf("parse identity file: %w", err)
}

func hostKeyCallback(cfg SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.Insecure {
		cfg.logger().Warn("ssh_host_key_verification_disabled", zap.String("address", cfg.Address()))
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHostsFile
	if path == "" {
		path = "~/.ssh/known_hosts"
	}
	cb, err := knownhosts.New(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}

func (c SSHConfig) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// ExpandPath resolves a leading "~/" against the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
