package dbgpshare

import (
	"io"
	"sync"
)

// Pipe concurrently copies in both directions between two socket-like
// objects. Spec.md §5 requires that closing either socket of a session
// pair terminate the opposite direction's forwarder promptly, so as soon
// as either io.Copy returns (its source hit EOF, or erred), both src and
// dst are closed immediately -- not just the one that reached EOF -- so
// the other goroutine's blocked Read unblocks instead of leaking forever
// on a half-closed connection. Pipe returns once both directions have
// finished.
func Pipe(src io.ReadWriteCloser, dst io.ReadWriteCloser) (int64, int64) {
	var sent, received int64
	var wg sync.WaitGroup
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			src.Close()
			dst.Close()
		})
	}
	wg.Add(2)
	go func() {
		received, _ = io.Copy(src, dst)
		closeBoth()
		wg.Done()
	}()
	go func() {
		sent, _ = io.Copy(dst, src)
		closeBoth()
		wg.Done()
	}()
	wg.Wait()
	return sent, received
}
