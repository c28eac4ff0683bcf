package internal

import "golang.org/x/sys/unix"

// Waker multiplexes a backend's native event file descriptor with an
// internal wake-up signal, so a single worker goroutine can block in one
// syscall and still be woken promptly when a control message (Watch,
// Unwatch, Configure, Close) is waiting for it. It is the epoll/self-pipe
// pattern: a non-blocking pipe whose write end is poked by Wake and whose
// read end is registered alongside fd in the same epoll set.
type Waker struct {
	epfd      int
	fd        int
	pipeRead  int
	pipeWrite int
	drainBuf  [64]byte
}

// NewWaker creates a Waker multiplexing fd (expected already non-blocking)
// with an internal wake pipe.
func NewWaker(fd int) (*Waker, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	w := &Waker{epfd: epfd, fd: fd, pipeRead: pipeFds[0], pipeWrite: pipeFds[1]}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}); err != nil {
		w.Close()
		return nil, err
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, w.pipeRead, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(w.pipeRead)}); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// Wait blocks until fd is readable, Wake is called, or timeoutMs elapses
// (pass -1 to block indefinitely). It reports which of the first two
// happened (both may be true if they raced); woken events are drained
// before returning so a second Wait doesn't spuriously return immediately.
func (w *Waker) Wait(timeoutMs int) (fdReady bool, woken bool, err error) {
	var events [2]unix.EpollEvent
	for {
		n, err := unix.EpollWait(w.epfd, events[:], timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return false, false, err
		}
		for i := 0; i < n; i++ {
			switch int(events[i].Fd) {
			case w.fd:
				fdReady = true
			case w.pipeRead:
				woken = true
				w.drain()
			}
		}
		return fdReady, woken, nil
	}
}

func (w *Waker) drain() {
	for {
		_, err := unix.Read(w.pipeRead, w.drainBuf[:])
		if err != nil {
			return
		}
	}
}

// Wake unblocks a pending or future Wait call.
func (w *Waker) Wake() error {
	_, err := unix.Write(w.pipeWrite, []byte{0})
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// Close releases the epoll instance and pipe. It does not close fd, which
// the caller owns.
func (w *Waker) Close() error {
	unix.Close(w.pipeRead)
	unix.Close(w.pipeWrite)
	return unix.Close(w.epfd)
}
