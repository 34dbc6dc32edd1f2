package channel

import (
	"errors"
	"io"
	"strings"
)

// IsErrClosing reports whether err is the kind of error produced by this
// package's Channel implementations (and by the underlying net/io plumbing
// they wrap) when a Send or Recv is attempted after the channel, or its
// underlying connection, has already been closed.
func IsErrClosing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.EOF) {
		return true
	}
	// net.OpError and similar wrap this text rather than a sentinel value;
	// matching on it is the standard workaround used throughout the net
	// package ecosystem (see e.g. golang.org/issue/4373).
	return strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "send on closed channel")
}
