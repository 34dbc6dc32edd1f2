// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpc2_test

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	jrpc2 "github.com/go-rpc2/peer"
	"github.com/go-rpc2/peer/channel"
	"github.com/go-rpc2/peer/handler"
)

// Two peers sharing one duplex channel can each call the other's methods
// concurrently: inbound traffic is demultiplexed by message shape, so a
// peer's own Client sees only responses and its own Server sees only
// requests and notifications.
func TestPeerBidirectionalCalls(t *testing.T) {
	defer leaktest.Check(t)()

	sideA, sideB := channel.Direct()

	alpha := jrpc2.NewPeer(sideA, handler.Map{
		"double": handler.New(func(_ context.Context, ns [1]int) (int, error) { return ns[0] * 2, nil }),
	}, nil, nil)
	beta := jrpc2.NewPeer(sideB, handler.Map{
		"shout": handler.New(func(_ context.Context, ss [1]string) (string, error) { return ss[0] + "!", nil }),
	}, nil, nil)
	defer func() {
		alpha.Close()
		beta.Close()
	}()

	var doubled int
	if err := beta.Client.CallResult(context.Background(), "double", []int{21}, &doubled); err != nil {
		t.Fatalf("beta calling alpha.double: %v", err)
	}
	if doubled != 42 {
		t.Errorf("double(21): got %d, want 42", doubled)
	}

	var shouted string
	if err := alpha.Client.CallResult(context.Background(), "shout", []string{"hi"}, &shouted); err != nil {
		t.Fatalf("alpha calling beta.shout: %v", err)
	}
	if shouted != "hi!" {
		t.Errorf("shout(hi): got %q, want %q", shouted, "hi!")
	}
}

// Closing a peer tears down both conduits and reports done.
func TestPeerClose(t *testing.T) {
	defer leaktest.Check(t)()

	sideA, sideB := channel.Direct()
	alpha := jrpc2.NewPeer(sideA, handler.Map{}, nil, nil)
	beta := jrpc2.NewPeer(sideB, handler.Map{}, nil, nil)
	defer beta.Close()

	if alpha.IsClosed() {
		t.Fatal("IsClosed: reported true before Close")
	}
	if err := alpha.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !alpha.IsClosed() {
		t.Error("IsClosed: reported false after Close")
	}
	select {
	case <-alpha.Done():
	case <-time.After(time.Second):
		t.Fatal("Done: channel was not closed within timeout")
	}

	// A second Close must not panic or block.
	if err := alpha.Close(); err != nil {
		t.Errorf("second Close: got %v, want nil", err)
	}
}
