// Package transfer moves files between local disk and the remote object store.
// Every Pull or Push opens its own session; pushes land under a temporary name
// and are renamed into place so readers never see a partial file.
package transfer

import (
	"context"
	"errors"
	"io"
	"os"
)

// Session is one connection to the remote store. Paths are slash separated.
type Session interface {
	// Get opens a remote file for reading.
	Get(path string) (io.ReadCloser, error)
	// Put creates or truncates a remote file for writing.
	Put(path string) (io.WriteCloser, error)
	// Rename moves oldpath to newpath, replacing newpath if it exists.
	Rename(oldpath, newpath string) error
	Remove(path string) error
	Stat(path string) (os.FileInfo, error)
	MkdirAll(path string) error
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// Sentinel errors wrapped by the client.
var (
	// ErrConnect is returned when a session cannot be established.
	ErrConnect = errors.New("remote connection failed")
	// ErrPull is returned when a remote file cannot be copied to local disk.
	ErrPull = errors.New("pull failed")
	// ErrPush is returned when a local file cannot be stored remotely.
	ErrPush = errors.New("push failed")
)

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
