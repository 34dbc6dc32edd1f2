// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

/*
Package jrpc2 implements the JSON-RPC 2.0 protocol described by
http://www.jsonrpc.org/specification, independent of any particular
transport or wire codec.

A Server dispatches inbound requests from a channel.Channel to handlers
registered through an Assigner. A Client issues outbound requests and
notifications on a channel.Channel and correlates inbound responses back to
their callers. A Peer composes a Client and a Server over a single shared
channel, so a program can simultaneously answer calls from, and issue calls
to, the same remote endpoint.

None of these types open a network connection or choose a byte encoding on
their own: they are handed a channel.Channel, an abstraction over a duplex
stream of already-framed messages, and the package codecs (see the channel
subpackage) take care of turning bytes into messages and back.

A minimal server looks like this:

	mux := handler.Map{
	   "Add": handler.New(func(ctx context.Context, vs []int) (int, error) {
	      sum := 0
	      for _, v := range vs {
	         sum += v
	      }
	      return sum, nil
	   }),
	}
	srv := jrpc2.NewServer(mux, nil).Start(ch)
	defer srv.Stop()

and a client that calls it:

	cli := jrpc2.NewClient(ch, nil)
	var sum int
	if err := cli.CallResult(ctx, "Add", []int{1, 2, 3}, &sum); err != nil {
	   log.Fatal(err)
	}
*/
package jrpc2

// Version is the version string for the JSON-RPC protocol understood by this
// implementation, defined at http://www.jsonrpc.org/specification.
const Version = "2.0"
