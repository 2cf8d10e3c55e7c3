package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/orthoflow/orthoflow/internal/platform/logger"
	"github.com/orthoflow/orthoflow/internal/platform/metrics"
	"github.com/spf13/afero"
)

// Client pulls and pushes whole files.
type Client struct {
	dialer  Dialer
	local   afero.Fs
	devMode bool
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithLocalFs replaces the OS filesystem used for local paths.
func WithLocalFs(fs afero.Fs) Option {
	return func(c *Client) { c.local = fs }
}

// WithDevMode turns Push into a logged no-op.
func WithDevMode(dev bool) Option {
	return func(c *Client) { c.devMode = dev }
}

// WithMetrics records transferred bytes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client that opens one session per operation.
func NewClient(dialer Dialer, opts ...Option) *Client {
	c := &Client{dialer: dialer, local: afero.NewOsFs()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pull copies remote to local. If local already exists nothing is transferred.
// The download is written next to local and renamed once complete, so an
// interrupted pull never leaves a file that a later call would trust.
func (c *Client) Pull(ctx context.Context, remote, local string) error {
	log := logger.FromContext(ctx).With(
		slog.String("remote_path", remote),
		slog.String("local_path", local))

	if _, err := c.local.Stat(local); err == nil {
		log.DebugContext(ctx, "local copy present, skipping pull")
		return nil
	}

	sess, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer c.closeSession(ctx, sess)

	if err := c.local.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("%w: create local directory: %v", ErrPull, err)
	}

	src, err := sess.Get(remote)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrPull, remote, err)
	}
	defer func() { _ = src.Close() }()

	part := local + ".part"
	dst, err := c.local.Create(part)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrPull, part, err)
	}

	n, copyErr := io.Copy(dst, contextReader{ctx: ctx, r: src})
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = c.local.Remove(part)
		return fmt.Errorf("%w: copy %s: %v", ErrPull, remote, err)
	}
	if err := c.local.Rename(part, local); err != nil {
		_ = c.local.Remove(part)
		return fmt.Errorf("%w: rename %s: %v", ErrPull, part, err)
	}

	if _, err := c.local.Stat(local); err != nil {
		log.ErrorContext(ctx, "pulled file not found after transfer", slog.String("error", err.Error()))
	}

	c.metrics.Transferred("pull", n)
	log.InfoContext(ctx, "pulled file", slog.Int64("bytes", n))
	return nil
}

// Push stores local at remote. The bytes are uploaded to remote + ".tmp" and
// renamed over remote; on failure the temporary file is removed and remote is
// left as it was. In dev mode nothing is transferred.
func (c *Client) Push(ctx context.Context, local, remote string) error {
	log := logger.FromContext(ctx).With(
		slog.String("local_path", local),
		slog.String("remote_path", remote))

	if c.devMode {
		log.InfoContext(ctx, "dev mode, skipping push")
		return nil
	}

	src, err := c.local.Open(local)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrPush, local, err)
	}
	defer func() { _ = src.Close() }()

	sess, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer c.closeSession(ctx, sess)

	if _, err := sess.Stat(remote); err == nil {
		log.WarnContext(ctx, "remote file exists and will be replaced")
	}

	if err := sess.MkdirAll(path.Dir(remote)); err != nil {
		return fmt.Errorf("%w: create remote directory: %v", ErrPush, err)
	}

	tmp := remote + ".tmp"
	dst, err := sess.Put(tmp)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrPush, tmp, err)
	}

	n, copyErr := io.Copy(dst, contextReader{ctx: ctx, r: src})
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		c.removeTemp(ctx, sess, tmp)
		return fmt.Errorf("%w: upload %s: %v", ErrPush, tmp, err)
	}

	if err := sess.Rename(tmp, remote); err != nil {
		c.removeTemp(ctx, sess, tmp)
		return fmt.Errorf("%w: rename %s: %v", ErrPush, tmp, err)
	}

	c.metrics.Transferred("push", n)
	log.InfoContext(ctx, "pushed file", slog.Int64("bytes", n))
	return nil
}

func (c *Client) dial(ctx context.Context) (Session, error) {
	sess, err := c.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	return sess, nil
}

func (c *Client) closeSession(ctx context.Context, sess Session) {
	if err := sess.Close(); err != nil {
		logger.FromContext(ctx).WarnContext(ctx, "failed to close remote session",
			slog.String("error", err.Error()))
	}
}

func (c *Client) removeTemp(ctx context.Context, sess Session, tmp string) {
	if err := sess.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.FromContext(ctx).ErrorContext(ctx, "failed to remove temporary remote file",
			slog.String("path", tmp),
			slog.String("error", err.Error()))
	}
}
