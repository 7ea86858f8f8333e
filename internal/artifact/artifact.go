// Package artifact abstracts storage of uploaded audio artifacts. Upload
// handling itself lives outside the triage core; the pipeline only needs to
// stat and read artifacts by reference.
package artifact

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound reports that no artifact exists for the given reference.
var ErrNotFound = errors.New("artifact not found")

// Info describes a stored artifact.
type Info struct {
	Ref         string
	Size        int64
	ContentType string
}

// Store is the artifact persistence interface.
type Store interface {
	Stat(ctx context.Context, ref string) (*Info, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, *Info, error)
	Put(ctx context.Context, ref string, r io.Reader, size int64, contentType string) error
}
