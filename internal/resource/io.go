package resource

import (
	"context"
	"io"
)

type limitedReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

// NewReader throttles r by the controller's IO rate. Bytes are charged
// after they are read.
func NewReader(ctx context.Context, r io.Reader, c *Controller) io.Reader {
	if c == nil || c.ioLimiter == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, c: c}
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	n, err := lr.r.Read(p)
	if n > 0 {
		if werr := lr.c.WaitIO(lr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
