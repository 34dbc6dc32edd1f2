// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpc2

import (
	"sync"

	"github.com/go-rpc2/peer/channel"
)

// channelManager owns a single channel.Channel on behalf of one or more
// protocol engines that share it. It makes Close idempotent, makes later
// sends fail with ErrConnClosed once Close has been called, and enforces that
// at most one reader goroutine is ever listening on the channel at a time.
// Send and Recv on the underlying channel run outside the manager's lock.
//
// The *Server and *Client types each manage their own dedicated channel
// directly, following the teacher's original design; channelManager exists
// for *Peer, which must let a Server and a Client share one channel without
// either assuming sole ownership of it.
type channelManager struct {
	ch channel.Channel

	mu        sync.Mutex
	listening bool
	closed    bool
	err       error
	done      chan struct{}
}

// newChannelManager constructs a manager for ch. The channel is not touched
// until listen is called.
func newChannelManager(ch channel.Channel) *channelManager {
	return &channelManager{ch: ch, done: make(chan struct{})}
}

// listen starts a single reader goroutine that delivers each message Recv'd
// from the channel to consumer, until Recv reports an error (including
// after close is called). It panics if called more than once.
func (m *channelManager) listen(consumer func([]byte)) {
	m.mu.Lock()
	if m.listening {
		m.mu.Unlock()
		panic("channelManager.listen called more than once")
	}
	m.listening = true
	closed := m.closed
	m.mu.Unlock()
	if closed {
		// close was called before listen and has already closed m.done; the
		// manager is permanently inert.
		return
	}

	go func() {
		defer close(m.done)
		for {
			bits, err := m.ch.Recv()
			if err != nil {
				m.mu.Lock()
				// A Recv failure caused by close is not recorded, so that later
				// calls to close keep returning the result of the first.
				if m.err == nil && !m.closed {
					m.err = err
				}
				m.mu.Unlock()
				return
			}
			consumer(bits)
		}
	}()
}

// add sends msg on the underlying channel. It reports ErrConnClosed once the
// manager has been closed, without touching the channel again.
func (m *channelManager) add(msg []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	return m.ch.Send(msg)
}

// close shuts down the underlying channel exactly once; later calls return
// the result of the first call.
func (m *channelManager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return m.err
	}
	m.closed = true
	if !m.listening {
		close(m.done)
	}
	if err := m.ch.Close(); err != nil && m.err == nil {
		m.err = err
	}
	return m.err
}

// waitDone returns a channel that is closed once the listener goroutine has
// exited, which happens after Recv fails (typically as a consequence of
// close). If close was called before listen, the channel is already closed.
func (m *channelManager) waitDone() <-chan struct{} { return m.done }

// isClosed reports whether close has already been called.
func (m *channelManager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
