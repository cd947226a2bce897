// Package bus carries change notifications from backend publishers to the
// fan-out sessions over a ZeroMQ XSUB/XPUB relay. The wire contract is a
// three-part message: topic, ASCII sequence number, JSON payload.
package bus

import (
	"fmt"
	"runtime"

	zmq "github.com/pebbe/zmq4"
	"go.uber.org/zap"
)

// Forwarder is the pub/sub relay between publishers (inbound, XSUB) and
// the per-session subscriber sockets (outbound, XPUB). It forwards
// verbatim: no buffering policy of its own, no transformation, no
// persistence. Topic filtering happens on the subscriber sockets.
type Forwarder struct {
	zctx *zmq.Context
	in   string
	out  string
	log  *zap.Logger
}

// NewForwarder configures a relay between the two endpoints.
func NewForwarder(zctx *zmq.Context, in, out string, log *zap.Logger) *Forwarder {
	return &Forwarder{zctx: zctx, in: in, out: out, log: log}
}

// Run binds both endpoints and relays until the ZeroMQ context terminates.
// ZeroMQ sockets are not safe to migrate between threads, so the relay is
// pinned to one OS thread for its whole life. Any return is fatal to the
// service: without the relay there is no delivery path.
func (f *Forwarder) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	xsub, err := f.zctx.NewSocket(zmq.XSUB)
	if err != nil {
		return fmt.Errorf("xsub socket: %w", err)
	}
	defer func() { _ = xsub.Close() }()
	if err := xsub.Bind(f.in); err != nil {
		return fmt.Errorf("bind inbound %s: %w", f.in, err)
	}

	xpub, err := f.zctx.NewSocket(zmq.XPUB)
	if err != nil {
		return fmt.Errorf("xpub socket: %w", err)
	}
	defer func() { _ = xpub.Close() }()
	if err := xpub.Bind(f.out); err != nil {
		return fmt.Errorf("bind outbound %s: %w", f.out, err)
	}

	f.log.Info("bus forwarder running",
		zap.String("in", f.in),
		zap.String("out", f.out),
	)
	return zmq.Proxy(xsub, xpub, nil)
}
