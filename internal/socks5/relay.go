package socks5

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// halfWriteCloser is satisfied by streams that support shutting down the
// write half without closing the whole connection (net.TCPConn.CloseWrite,
// and any ingress adapter that chooses to implement it).
type halfWriteCloser interface {
	CloseWrite() error
}

// halfReadCloser is the read-side equivalent of halfWriteCloser
// (net.TCPConn.CloseRead).
type halfReadCloser interface {
	CloseRead() error
}

func closeWriteSide(w io.Writer) {
	if hc, ok := w.(halfWriteCloser); ok {
		_ = hc.CloseWrite()
	}
}

func closeReadSide(r io.Reader) {
	if hc, ok := r.(halfReadCloser); ok {
		_ = hc.CloseRead()
	}
}

// relayBufSize matches the reference implementation's transfer buffer size.
const relayBufSize = 64 * 1024

// relayHalf copies bytes in one direction (src -> dst), honoring idle and
// abort signaling, and reports bytes moved for metrics/logging. setDeadline,
// if non-nil, is called before each read to refresh an idle timeout; it is
// typically src.SetDeadline.
func relayHalf(src io.Reader, dst io.Writer, abort *atomic.Bool, idleTimeout time.Duration, setDeadline func(time.Time) error) (int64, error) {
	buf := make([]byte, relayBufSize)
	var total int64
	for {
		if abort.Load() {
			closeWriteSide(dst)
			return total, nil
		}
		if idleTimeout > 0 && setDeadline != nil {
			_ = setDeadline(time.Now().Add(idleTimeout))
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				closeReadSide(src)
				return total, werr
			}
			total += int64(n)
		}
		if rerr != nil {
			closeWriteSide(dst)
			if rerr == io.EOF {
				return total, nil
			}
			return total, rerr
		}
	}
}

// RelayResult reports bytes moved in each direction once both halves of a
// Relay have finished.
type RelayResult struct {
	BytesUp   int64 // local -> remote
	BytesDown int64 // remote -> local
}

// Relay drives a bidirectional byte-shovel between local and remote until
// both halves report EOF or error, per spec.md §4.4. abort, if set true
// concurrently by the caller, causes both halves to wind down at their next
// iteration boundary rather than immediately.
func Relay(local, remote Stream, abort *atomic.Bool, idleTimeout time.Duration) RelayResult {
	var res RelayResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.BytesUp, _ = relayHalf(local, remote, abort, idleTimeout, local.SetDeadline)
	}()
	go func() {
		defer wg.Done()
		res.BytesDown, _ = relayHalf(remote, local, abort, idleTimeout, remote.SetDeadline)
	}()
	wg.Wait()
	return res
}
