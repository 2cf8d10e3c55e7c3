package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshFxOpUnsupported is SSH_FX_OP_UNSUPPORTED from the SFTP protocol.
const sshFxOpUnsupported = 8

// SFTPConfig describes how to reach the remote store over SSH.
type SFTPConfig struct {
	Host       string
	Port       int
	User       string
	KeyPath    string
	Passphrase string
	// KnownHosts is a known_hosts file. Host keys are not checked when empty.
	KnownHosts  string
	DialTimeout time.Duration
}

// SFTPDialer opens key-authenticated SFTP sessions.
type SFTPDialer struct {
	cfg    SFTPConfig
	client *ssh.ClientConfig
}

// NewSFTPDialer reads the private key and host key settings once.
func NewSFTPDialer(cfg SFTPConfig) (*SFTPDialer, error) {
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if cfg.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHosts != "" {
		if hostKeys, err = knownhosts.New(cfg.KnownHosts); err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}

	return &SFTPDialer{
		cfg: cfg,
		client: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         cfg.DialTimeout,
		},
	}, nil
}

// Dial implements Dialer.
func (d *SFTPDialer) Dial(ctx context.Context) (Session, error) {
	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))

	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, d.client)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, err
	}
	return &sftpSession{ssh: sshClient, sftp: client}, nil
}

type sftpSession struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *sftpSession) Get(path string) (io.ReadCloser, error) { return s.sftp.Open(path) }

func (s *sftpSession) Put(path string) (io.WriteCloser, error) { return s.sftp.Create(path) }

// Rename prefers the posix-rename extension, which replaces the target
// atomically. Servers without it get remove-then-rename.
func (s *sftpSession) Rename(oldpath, newpath string) error {
	err := s.sftp.PosixRename(oldpath, newpath)
	if err == nil {
		return nil
	}
	var status *sftp.StatusError
	if !errors.As(err, &status) || status.Code != sshFxOpUnsupported {
		return err
	}
	if rmErr := s.sftp.Remove(newpath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return rmErr
	}
	return s.sftp.Rename(oldpath, newpath)
}

func (s *sftpSession) Remove(path string) error { return s.sftp.Remove(path) }

func (s *sftpSession) Stat(path string) (os.FileInfo, error) { return s.sftp.Stat(path) }

func (s *sftpSession) MkdirAll(path string) error { return s.sftp.MkdirAll(path) }

func (s *sftpSession) Close() error {
	return errors.Join(s.sftp.Close(), s.ssh.Close())
}
