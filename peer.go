// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpc2

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/go-rpc2/peer/channel"
)

// A Peer composes a Client and a Server over a single shared channel.Channel,
// so that a process can simultaneously issue calls to, and serve calls from,
// the same remote endpoint over one connection. This has no analogue in the
// teacher, whose Server exposes a Notify/Callback extension for a server to
// reach back to its one client on the server's own channel; a Peer instead
// gives each side a fully independent Client and Server, sharing only the
// transport.
//
// Inbound messages are demultiplexed by shape: a message whose top-level
// object (or first element of a batch) has no "method" key and carries a
// "result" or "error" key is routed to the Client conduit; every other
// message, including one that cannot be decoded, is routed to the Server
// conduit. Both conduits write outbound bytes back through the same
// underlying channel.
type Peer struct {
	// Client issues outgoing calls and notifications to the remote peer.
	Client *Client

	// Server answers incoming calls and notifications from the remote peer.
	Server *Server

	mgr          *channelManager
	clientHalf   *peerHalf
	serverHalf   *peerHalf
}

// peerHalf adapts one direction of a Peer's demultiplexed traffic to the
// channel.Channel interface expected by Client/Server. Writes are forwarded
// to the shared channel manager; reads are served from an internal buffer
// fed by the Peer's demultiplexer goroutine.
type peerHalf struct {
	in       chan []byte
	mgr      *channelManager
	closeOne sync.Once
}

func newPeerHalf(mgr *channelManager) *peerHalf {
	return &peerHalf{in: make(chan []byte, 64), mgr: mgr}
}

func (h *peerHalf) Send(msg []byte) error { return h.mgr.add(msg) }

func (h *peerHalf) Recv() ([]byte, error) {
	bits, ok := <-h.in
	if !ok {
		return nil, io.EOF
	}
	return bits, nil
}

// Close unblocks this half's Recv, which is how the embedded Server/Client
// notice they should shut down (each calls Close on its own channel as part
// of its own stop sequence). It does not touch the shared underlying
// channel; that is closed once, by Peer.Close.
func (h *peerHalf) Close() error {
	h.closeOne.Do(func() { close(h.in) })
	return nil
}

func (h *peerHalf) deliver(msg []byte) {
	select {
	case h.in <- msg:
	case <-h.mgr.waitDone():
	}
}

// NewPeer constructs a Peer that serves mux over ch while also allowing
// outbound calls via the returned Peer's Client field, and starts both
// conduits and the demultiplexer immediately.
func NewPeer(ch channel.Channel, mux Assigner, sopts *ServerOptions, copts *ClientOptions) *Peer {
	mgr := newChannelManager(ch)
	p := &Peer{
		mgr:        mgr,
		clientHalf: newPeerHalf(mgr),
		serverHalf: newPeerHalf(mgr),
	}
	p.Server = NewServer(mux, sopts).Start(p.serverHalf)
	p.Client = NewClient(p.clientHalf, copts)

	mgr.listen(func(bits []byte) {
		if isResponseFrame(bits) {
			p.clientHalf.deliver(bits)
		} else {
			p.serverHalf.deliver(bits)
		}
	})
	return p
}

// isResponseFrame reports whether the raw JSON message bits is shaped like a
// JSON-RPC response (or a batch of responses), as opposed to a request or
// notification (or a batch of those). Malformed input is treated as
// belonging to the server side, so the usual parse-error reporting path
// produces the diagnostic.
func isResponseFrame(bits []byte) bool {
	first := bits
	if firstByte(bits) == '[' {
		var elems []json.RawMessage
		if err := json.Unmarshal(bits, &elems); err != nil || len(elems) == 0 {
			return false
		}
		first = elems[0]
	}
	var probe struct {
		Method *string         `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(first, &probe); err != nil {
		return false
	}
	return probe.Method == nil && (probe.Result != nil || probe.Error != nil)
}

// Close shuts down both conduits and the shared underlying channel. It
// blocks until the Server has finished any in-flight handlers and the
// demultiplexer goroutine has exited.
func (p *Peer) Close() error {
	cerr := p.Client.Close()
	p.Server.Stop()
	serr := p.Server.Wait()
	merr := p.mgr.close()
	<-p.mgr.waitDone()
	if merr != nil {
		return merr
	}
	if cerr != nil && cerr != errClientStopped {
		return cerr
	}
	return serr
}

// Done returns a channel that is closed once the Peer's underlying
// connection has terminated, whether by an explicit Close or because the
// channel itself was closed by the remote end.
func (p *Peer) Done() <-chan struct{} { return p.mgr.waitDone() }

// IsClosed reports whether Close has already been called on p.
func (p *Peer) IsClosed() bool { return p.mgr.isClosed() }
