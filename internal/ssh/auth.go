// SPDX-License-Identifier: Apache-2.0
// SPDX-FileCopyrightText: 2025 The Linux Foundation

package ssh

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds SSH discovery settings. Empty fields are auto-detected.
type Config struct {
	// SSH agent socket path, defaults to $SSH_AUTH_SOCK
	AgentSocket string

	// Private key files, defaults to the common names under ~/.ssh
	KeyFiles []string

	// known_hosts file used to verify host keys, defaults to
	// ~/.ssh/known_hosts. Hosts are not verified when it does not exist.
	KnownHostsFile string

	// Timeout for each connection test
	Timeout time.Duration

	Verbose bool
}

// DefaultConfig returns a default SSH configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}

// AuthMethod is one source of SSH credentials
type AuthMethod interface {
	Name() string
	Available() bool
	Auth() (ssh.AuthMethod, error)
}

// MethodStatus reports whether an authentication method can be used
type MethodStatus struct {
	Name      string
	Available bool
	Err       error
}

// Authenticator collects the agent and key file methods found on this host
type Authenticator struct {
	config  Config
	methods []AuthMethod
	agent   *agentAuth
}

// NewAuthenticator creates an authenticator, auto-detecting the agent
// socket and key files
func NewAuthenticator(config *Config) (*Authenticator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	if cfg.AgentSocket == "" {
		cfg.AgentSocket = os.Getenv("SSH_AUTH_SOCK")
	}
	if len(cfg.KeyFiles) == 0 || cfg.KnownHostsFile == "" {
		home, err := os.UserHomeDir()
		if err != nil && len(cfg.KeyFiles) == 0 {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		if len(cfg.KeyFiles) == 0 {
			cfg.KeyFiles = findKeys(filepath.Join(home, ".ssh"))
		}
		if cfg.KnownHostsFile == "" && home != "" {
			cfg.KnownHostsFile = filepath.Join(home, ".ssh", "known_hosts")
		}
	}

	a := &Authenticator{config: cfg}

	// Agent first: it covers hardware-backed and passphrase-protected keys
	if cfg.AgentSocket != "" {
		a.agent = &agentAuth{socketPath: cfg.AgentSocket}
		a.methods = append(a.methods, a.agent)
	}
	for _, keyFile := range cfg.KeyFiles {
		a.methods = append(a.methods, &keyAuth{keyFile: keyFile})
	}

	return a, nil
}

// findKeys returns the common private key files present in dir
func findKeys(dir string) []string {
	var found []string
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa", "id_dsa"} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			found = append(found, path)
		}
	}
	return found
}

// Status describes every configured method
func (a *Authenticator) Status() []MethodStatus {
	statuses := make([]MethodStatus, 0, len(a.methods))
	for _, m := range a.methods {
		status := MethodStatus{Name: m.Name(), Available: m.Available()}
		if status.Available {
			if _, err := m.Auth(); err != nil {
				status.Available = false
				status.Err = err
			}
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Methods returns the usable authentication methods in priority order
func (a *Authenticator) Methods() []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	for _, m := range a.methods {
		if !m.Available() {
			continue
		}
		method, err := m.Auth()
		if err != nil {
			a.logf("Skipping %s: %v", m.Name(), err)
			continue
		}
		a.logf("Using %s", m.Name())
		methods = append(methods, method)
	}
	return methods
}

// TestConnection completes an SSH handshake with ep and closes the
// connection. Forges refuse shell sessions, so authentication succeeding
// is the whole test.
func (a *Authenticator) TestConnection(ctx context.Context, ep Endpoint) error {
	methods := a.Methods()
	if len(methods) == 0 {
		return errors.New("no SSH authentication method available (start ssh-agent or add a key under ~/.ssh)")
	}

	hostKeyCallback, err := a.hostKeyCallback()
	if err != nil {
		return err
	}

	config := &ssh.ClientConfig{
		User:            ep.User,
		Auth:            methods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         a.config.Timeout,
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	address := ep.Address()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("SSH handshake with %s failed: %w", ep, err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)
	defer func() {
		_ = client.Close()
	}()

	a.logf("Connected to %s", ep)
	return nil
}

func (a *Authenticator) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if a.config.KnownHostsFile != "" {
		if _, err := os.Stat(a.config.KnownHostsFile); err == nil {
			callback, err := knownhosts.New(a.config.KnownHostsFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", a.config.KnownHostsFile, err)
			}
			return callback, nil
		}
	}
	a.logf("No known_hosts file, host keys are not verified")
	return ssh.InsecureIgnoreHostKey(), nil
}

// Close releases the agent connection
func (a *Authenticator) Close() error {
	if a.agent != nil {
		return a.agent.close()
	}
	return nil
}

func (a *Authenticator) logf(format string, args ...interface{}) {
	if a.config.Verbose {
		log.Printf("[SSH] "+format, args...)
	}
}

// agentAuth authenticates with the keys held by ssh-agent
type agentAuth struct {
	socketPath string

	mu   sync.Mutex
	conn net.Conn
}

func (a *agentAuth) Name() string {
	return "SSH agent"
}

func (a *agentAuth) Available() bool {
	info, err := os.Stat(a.socketPath)
	return err == nil && info.Mode()&os.ModeSocket != 0
}

func (a *agentAuth) Auth() (ssh.AuthMethod, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		conn, err := net.Dial("unix", a.socketPath)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SSH agent: %w", err)
		}
		a.conn = conn
	}

	client := agent.NewClient(a.conn)
	keys, err := client.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list agent keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, errors.New("SSH agent holds no keys")
	}
	return ssh.PublicKeysCallback(client.Signers), nil
}

func (a *agentAuth) close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

// keyAuth authenticates with an unencrypted private key file
type keyAuth struct {
	keyFile string
}

func (k *keyAuth) Name() string {
	return fmt.Sprintf("SSH key %s", filepath.Base(k.keyFile))
}

func (k *keyAuth) Available() bool {
	_, err := os.Stat(k.keyFile)
	return err == nil
}

func (k *keyAuth) Auth() (ssh.AuthMethod, error) {
	key, err := os.ReadFile(k.keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %s: %w", k.keyFile, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("key file %s is encrypted; load it into ssh-agent", k.keyFile)
		}
		return nil, fmt.Errorf("failed to parse key file %s: %w", k.keyFile, err)
	}
	return ssh.PublicKeys(signer), nil
}
