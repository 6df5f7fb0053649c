package wire

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/jpillora/sizestr"

	"github.com/portguard/portguard/internal/pgshare"
)

// Stream is the minimal interface the splice needs from either side of a
// bridged pair: a readable, writable, closable byte stream. A Stream that
// also implements HalfWriteCloser has just its write half shut down at EOF;
// any other Stream is closed outright.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

var lastSpliceNum int64

// Splice copies bytes in both directions between a and b until both
// directions have reached EOF or erred. When one direction's reader hits
// EOF, the destination's write side is half-closed so a well-behaved peer
// observes the closure and terminates the opposite direction on its own.
// An error in either direction closes both streams, which ends the other
// direction as well. Splice does not return until both copies have finished, and closes both
// streams before returning.
//
// The return values are bytes copied a->b, bytes copied b->a, and the
// first error encountered in either direction (nil if both ended cleanly).
func Splice(logger pgshare.Logger, a, b Stream) (int64, int64, error) {
	num := atomic.AddInt64(&lastSpliceNum, 1)
	logger = logger.Fork("splice#%d", num)

	var aToB, bToA int64
	var aToBErr, bToAErr error
	var wg sync.WaitGroup
	wg.Add(2)

	copyDir := func(src, dst Stream, n *int64, errOut *error) {
		defer wg.Done()
		*n, *errOut = io.Copy(dst, src)
		if *errOut != nil {
			logger.DLogf("copy ended with error: %s", *errOut)
			_ = a.Close()
			_ = b.Close()
			return
		}
		if err := closeWrite(dst); err != nil {
			logger.DLogf("half-close of destination failed, ignoring: %s", err)
		}
	}

	go copyDir(a, b, &aToB, &aToBErr)
	go copyDir(b, a, &bToA, &bToAErr)
	wg.Wait()

	_ = b.Close()
	_ = a.Close()

	err := aToBErr
	if err == nil {
		err = bToAErr
	}
	if err != nil {
		logger.WLogf("splice ended after sent %s received %s: %s", sizestr.ToString(aToB), sizestr.ToString(bToA), err)
	} else {
		logger.DLogf("splice ended cleanly after sent %s received %s", sizestr.ToString(aToB), sizestr.ToString(bToA))
	}
	return aToB, bToA, err
}
