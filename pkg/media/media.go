// Package media stores uploaded message and profile media and returns the
// URL clients fetch it from.
package media

import (
	"context"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Upload struct {
	Filename string
	MIME     string
	Body     io.Reader
}

type Uploader interface {
	Upload(ctx context.Context, u Upload) (url string, err error)
}

// Disk writes uploads under Dir and serves them from BaseURL. It is meant
// for development; the HTTP server exposes Dir at BaseURL.
type Disk struct {
	Dir     string
	BaseURL string
}

func NewDisk(dir, baseURL string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create media dir %s", dir)
	}
	return &Disk{Dir: dir, BaseURL: baseURL}, nil
}

func (d *Disk) Upload(ctx context.Context, u Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := uuid.NewString() + extension(u)

	f, err := os.Create(filepath.Join(d.Dir, name))
	if err != nil {
		return "", errors.Wrap(err, "create media file")
	}
	if _, err := io.Copy(f, u.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", errors.Wrap(err, "write media file")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "close media file")
	}
	return path.Join(d.BaseURL, name), nil
}

func extension(u Upload) string {
	if ext := filepath.Ext(u.Filename); ext != "" {
		return ext
	}
	if exts, _ := mime.ExtensionsByType(u.MIME); len(exts) > 0 {
		return exts[0]
	}
	return ""
}
