package source

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"
)

// SSHConfig holds SFTP connection settings. Values in a location URL
// (user, password, port) take precedence.
type SSHConfig struct {
	// User is the default SSH username
	User string `yaml:"user" env:"FASTEXCEL_SFTP_USER"`

	// Port is the default SSH port (default: 22)
	Port int `yaml:"port" validate:"gte=0,lte=65535"`

	// AuthMethod specifies which authentication method to use. When empty,
	// key authentication is used unless a password is available.
	AuthMethod AuthMethod `yaml:"auth_method" validate:"omitempty,oneof=password key"`

	// Password for password-based authentication
	Password string `yaml:"password" env:"FASTEXCEL_SFTP_PASSWORD"`

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string `yaml:"private_key_path" env:"FASTEXCEL_SFTP_PRIVATE_KEY"`

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string `yaml:"private_key_passphrase" env:"FASTEXCEL_SFTP_PRIVATE_KEY_PASSPHRASE"`

	// KnownHostsPath is the path to the known_hosts file
	KnownHostsPath string `yaml:"known_hosts_path"`

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	// When false, any host key is accepted.
	StrictHostKeyChecking bool `yaml:"strict_host_key_checking"`

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// DefaultSSHConfig returns an SSHConfig with sensible defaults.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		Port:                  22,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
	}
}

// forLocation merges the location's credentials into a copy of c.
func (c SSHConfig) forLocation(loc Location) SSHConfig {
	if loc.User != "" {
		c.User = loc.User
	}
	if loc.Password != "" {
		c.Password = loc.Password
		if c.AuthMethod == "" {
			c.AuthMethod = AuthMethodPassword
		}
	}
	if loc.Port != 0 {
		c.Port = loc.Port
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.AuthMethod == "" {
		c.AuthMethod = AuthMethodKey
		if c.PrivateKeyPath == "" && c.Password != "" {
			c.AuthMethod = AuthMethodPassword
		}
	}
	return c
}

// Validate checks if the configuration can open a connection.
func (c *SSHConfig) Validate() error {
	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			homeDir := os.Getenv("HOME")
			for _, keyPath := range []string{
				filepath.Join(homeDir, ".ssh", "id_ed25519"),
				filepath.Join(homeDir, ".ssh", "id_rsa"),
				filepath.Join(homeDir, ".ssh", "id_ecdsa"),
			} {
				if _, err := os.Stat(keyPath); err == nil {
					c.PrivateKeyPath = keyPath
					break
				}
			}
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("private key path is required for key authentication and no default key found")
			}
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.StrictHostKeyChecking && c.KnownHostsPath == "" {
		return fmt.Errorf("known_hosts path is required for strict host key checking")
	}
	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the config.
func (c *SSHConfig) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many servers prompt for the password through keyboard-interactive.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.StrictHostKeyChecking {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// dialSSH connects to addr, giving up when ctx is done.
func dialSSH(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)

	go func() {
		client, err := ssh.Dial("tcp", addr, cfg)
		ch <- result{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.client, r.err
	}
}

// downloadSFTP copies the remote file at loc into dst and returns the
// number of bytes written and their SHA-256.
func downloadSFTP(ctx context.Context, logger zerolog.Logger, cfg SSHConfig, loc Location, dst io.Writer) (int64, string, error) {
	display := loc.String()
	cfg = cfg.forLocation(loc)
	if err := cfg.Validate(); err != nil {
		return 0, "", &FetchError{Op: "connect", Location: display, Err: err, IsAuthError: true}
	}

	clientConfig, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return 0, "", &FetchError{Op: "connect", Location: display, Err: err, IsAuthError: true}
	}

	startTime := time.Now()
	addr := net.JoinHostPort(loc.Host, strconv.Itoa(cfg.Port))
	logger.Debug().Str("address", addr).Msg("Establishing SSH connection")

	client, err := dialSSH(ctx, addr, clientConfig)
	if err != nil {
		return 0, "", &FetchError{Op: "connect", Location: display, Err: err, IsTemporary: true}
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return 0, "", &FetchError{Op: "sftp-init", Location: display, Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true}
	}
	defer sftpClient.Close()

	remoteFile, err := sftpClient.Open(loc.Path)
	if err != nil {
		return 0, "", &FetchError{Op: "download", Location: display, Err: fmt.Errorf("failed to open remote file: %w", err)}
	}
	defer remoteFile.Close()

	hash := sha256.New()
	written, err := copyWithContext(ctx, io.MultiWriter(dst, hash), remoteFile)
	if err != nil {
		return written, "", &FetchError{Op: "download", Location: display, Err: fmt.Errorf("failed to copy file: %w", err), IsTemporary: true}
	}

	logger.Info().
		Str("remote", display).
		Int64("bytes", written).
		Dur("duration", time.Since(startTime)).
		Msg("Workbook downloaded")

	return written, fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// copyWithContext copies src to dst, checking ctx between chunks.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
