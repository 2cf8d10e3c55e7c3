package transfer

import (
	"context"
	"io"
	"os"

	"github.com/spf13/afero"
)

// FSDialer serves sessions from a filesystem, typically the remote store
// mounted locally. Remote paths are resolved relative to the filesystem root.
type FSDialer struct {
	Fs afero.Fs
}

// NewLocalDialer returns a dialer rooted at dir on the OS filesystem.
func NewLocalDialer(dir string) *FSDialer {
	return &FSDialer{Fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}
}

// Dial implements Dialer.
func (d *FSDialer) Dial(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fsSession{fs: d.Fs}, nil
}

type fsSession struct {
	fs afero.Fs
}

func (s fsSession) Get(path string) (io.ReadCloser, error) { return s.fs.Open(path) }

func (s fsSession) Put(path string) (io.WriteCloser, error) { return s.fs.Create(path) }

func (s fsSession) Rename(oldpath, newpath string) error { return s.fs.Rename(oldpath, newpath) }

func (s fsSession) Remove(path string) error { return s.fs.Remove(path) }

func (s fsSession) Stat(path string) (os.FileInfo, error) { return s.fs.Stat(path) }

func (s fsSession) MkdirAll(path string) error { return s.fs.MkdirAll(path, 0o755) }

func (s fsSession) Close() error { return nil }
