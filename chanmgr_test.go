// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpc2

import (
	"testing"
	"time"

	"github.com/go-rpc2/peer/channel"
)

// A manager that is closed before it is ever listened on is permanently
// inert: waitDone reports immediately ready, and listen becomes a no-op.
func TestChannelManagerCloseBeforeListen(t *testing.T) {
	cch, sch := channel.Direct()
	defer cch.Close()

	m := newChannelManager(sch)
	if err := m.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !m.isClosed() {
		t.Fatal("isClosed: got false after close")
	}

	m.listen(func([]byte) { t.Fatal("listen: consumer invoked on an inert manager") })

	select {
	case <-m.waitDone():
	case <-time.After(time.Second):
		t.Fatal("waitDone: did not become ready for a close-before-listen manager")
	}
}

// Closing a manager while it is listening unblocks the reader goroutine and
// makes subsequent sends fail.
func TestChannelManagerCloseWhileListening(t *testing.T) {
	cch, sch := channel.Direct()
	defer cch.Close()

	m := newChannelManager(sch)
	delivered := make(chan []byte, 1)
	m.listen(func(bits []byte) { delivered <- bits })

	if err := cch.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case got := <-delivered:
		if string(got) != "hello" {
			t.Errorf("delivered: got %q, want %q", got, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	if err := m.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-m.waitDone():
	case <-time.After(time.Second):
		t.Fatal("waitDone: reader goroutine did not exit after close")
	}

	if err := m.add([]byte("too late")); err != ErrConnClosed {
		t.Errorf("add after close: got %v, want ErrConnClosed", err)
	}

	// A second close is idempotent.
	if err := m.close(); err != nil {
		t.Errorf("second close: got %v, want nil", err)
	}
}

// listen panics if called a second time.
func TestChannelManagerListenOnce(t *testing.T) {
	cch, sch := channel.Direct()
	defer cch.Close()
	defer sch.Close()

	m := newChannelManager(sch)
	m.listen(func([]byte) {})

	defer func() {
		if recover() == nil {
			t.Error("listen: expected a panic on second call")
		}
	}()
	m.listen(func([]byte) {})
}
