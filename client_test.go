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

// A client assigns each outbound call a fresh id for the lifetime of the
// connection, across successive calls.
func TestClientRequestIDsAreUnique(t *testing.T) {
	defer leaktest.Check(t)()

	mux := handler.Map{
		"echoID": handler.New(func(ctx context.Context) (string, error) {
			return jrpc2.InboundRequest(ctx).ID(), nil
		}),
	}
	cch, sch := channel.Direct()
	srv := jrpc2.NewServer(mux, nil).Start(sch)
	cli := jrpc2.NewClient(cch, nil)
	defer func() {
		cli.Close()
		srv.Stop()
		srv.Wait()
	}()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		rsp, err := cli.Call(context.Background(), "echoID", nil)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if seen[rsp.ID()] {
			t.Fatalf("call %d: id %q was reused", i, rsp.ID())
		}
		seen[rsp.ID()] = true
	}
}

// A context deadline for a pending call unblocks the caller with a
// DeadlineExceeded error, even if the server never replies.
func TestClientCallContextDeadline(t *testing.T) {
	defer leaktest.Check(t)()

	block := make(chan struct{})
	defer close(block)
	mux := handler.Map{
		"stall": handler.New(func(ctx context.Context) (string, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return "too late", nil
		}),
	}
	cch, sch := channel.Direct()
	srv := jrpc2.NewServer(mux, nil).Start(sch)
	cli := jrpc2.NewClient(cch, nil)
	defer func() {
		cli.Close()
		srv.Stop()
		srv.Wait()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := cli.Call(ctx, "stall", nil)
	if err == nil {
		t.Fatal("Call: expected a deadline error, got nil")
	}
}

// Notify sends a one-way message; the caller gets no response to wait on,
// and a subsequent round-trip call confirms the connection is still live.
func TestClientNotify(t *testing.T) {
	defer leaktest.Check(t)()

	got := make(chan string, 1)
	mux := handler.Map{
		"log": handler.Func(func(_ context.Context, req *jrpc2.Request) (any, error) {
			msg, err := req.Params().Key("message")
			if err != nil {
				return nil, err
			}
			got <- msg.GetStringOr("")
			return nil, nil
		}),
		"ping": handler.New(func(context.Context) (string, error) { return "pong", nil }),
	}
	cch, sch := channel.Direct()
	srv := jrpc2.NewServer(mux, nil).Start(sch)
	cli := jrpc2.NewClient(cch, nil)
	defer func() {
		cli.Close()
		srv.Stop()
		srv.Wait()
	}()

	if err := cli.Notify(context.Background(), "log", map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case msg := <-got:
		if msg != "hello" {
			t.Errorf("notification payload: got %q, want %q", msg, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification to be delivered")
	}

	var pong string
	if err := cli.CallResult(context.Background(), "ping", nil, &pong); err != nil {
		t.Fatalf("ping after notify: %v", err)
	}
	if pong != "pong" {
		t.Errorf("ping: got %q, want %q", pong, "pong")
	}
}

// Closing a client fails any calls still pending on it and makes the client
// unusable for further requests.
func TestClientCloseCancelsPending(t *testing.T) {
	defer leaktest.Check(t)()

	block := make(chan struct{})
	mux := handler.Map{
		"stall": handler.New(func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
	}
	cch, sch := channel.Direct()
	srv := jrpc2.NewServer(mux, nil).Start(sch)
	cli := jrpc2.NewClient(cch, nil)
	defer func() {
		srv.Stop()
		srv.Wait()
		close(block)
	}()

	errc := make(chan error, 1)
	go func() {
		_, err := cli.Call(context.Background(), "stall", nil)
		errc <- err
	}()

	// Give the request a moment to reach the server before closing.
	time.Sleep(20 * time.Millisecond)
	if err := cli.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errc:
		if err == nil {
			t.Error("pending call: expected an error after Close, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending call to unblock")
	}

	if _, err := cli.Call(context.Background(), "stall", nil); err == nil {
		t.Error("Call after Close: expected an error, got nil")
	}
}
