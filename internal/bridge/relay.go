package bridge

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// copyFunc performs one relay direction and reports how many bytes it moved.
type copyFunc func() (int64, error)

// relay runs the input and output directions concurrently and returns once
// both have finished. The first error to occur is returned as a RelayError;
// the other direction is left to drain unless policy is DrainAbort, in which
// case abort is called once.
//
// When ctx is done the child is being stopped, so only the output direction
// is joined. The input direction may be blocked reading the caller's stdin
// indefinitely; it is abandoned and its byte count is read as it stands.
func relay(ctx context.Context, policy DrainPolicy, abort func(), input, output copyFunc) (bytesIn, bytesOut int64, err error) {
	var (
		g       errgroup.Group
		once    sync.Once
		in, out atomic.Int64

		mu    sync.Mutex
		first error
	)

	run := func(dir Direction, fn copyFunc, n *atomic.Int64) func() error {
		return func() error {
			moved, err := fn()
			n.Store(moved)
			if err == nil {
				return nil
			}
			rerr := &RelayError{Direction: dir, Err: err}
			mu.Lock()
			if first == nil {
				first = rerr
			}
			mu.Unlock()
			if policy == DrainAbort && abort != nil {
				once.Do(abort)
			}
			return rerr
		}
	}

	outputDone := make(chan struct{})
	g.Go(run(DirectionInput, input, &in))
	g.Go(func() error {
		defer close(outputDone)
		return run(DirectionOutput, output, &out)()
	})

	joined := make(chan struct{})
	go func() {
		defer close(joined)
		_ = g.Wait()
	}()

	select {
	case <-joined:
	case <-ctx.Done():
		<-outputDone
	}

	mu.Lock()
	err = first
	mu.Unlock()
	return in.Load(), out.Load(), err
}

// copyAndClose copies src into dst, then closes dst so the reader on the
// other end sees end-of-input. A close error is reported only if the copy
// itself succeeded.
func copyAndClose(dst io.WriteCloser, src io.Reader) copyFunc {
	return func() (int64, error) {
		n, err := io.Copy(dst, src)
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		return n, err
	}
}

// copyAll copies src into dst until src reports end-of-output. With drain
// set, a failing dst does not stop the copy: the rest of src is read and
// discarded so the producer never blocks on a full pipe, and the write error
// is reported once src is exhausted.
func copyAll(dst io.Writer, src io.Reader, drain bool) copyFunc {
	return func() (int64, error) {
		sw := &stickyWriter{w: dst, drain: drain}
		_, err := io.Copy(sw, src)
		if sw.err != nil {
			return sw.n, sw.err
		}
		return sw.n, err
	}
}

// stickyWriter forwards writes to w and remembers the first error. When
// drain is set, writes after that error are discarded instead of failing.
// n counts bytes actually delivered to w.
type stickyWriter struct {
	w     io.Writer
	drain bool
	n     int64
	err   error
}

func (sw *stickyWriter) Write(p []byte) (int, error) {
	if sw.err != nil {
		return len(p), nil
	}
	n, err := sw.w.Write(p)
	sw.n += int64(n)
	if err != nil {
		sw.err = err
		if !sw.drain {
			return n, err
		}
	}
	return len(p), nil
}
