package bus

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/aferrand/changesd/internal/changes"
)

// recvPoll bounds how long Recv sits in the socket before re-checking its
// context; cancellation latency, not message latency.
const recvPoll = 250 * time.Millisecond

// Subscriber is one SUB socket on the forwarder's outbound endpoint,
// prefix-filtered to the topics it was opened with. Recv and Close must be
// called from the goroutine that owns the subscription loop; Close is
// idempotent.
type Subscriber struct {
	sock *zmq.Socket
	once sync.Once
	err  error
}

// NewSubscriber connects a SUB socket to the forwarder's outbound endpoint
// subscribed to each topic prefix. An empty topic subscribes to everything.
func NewSubscriber(zctx *zmq.Context, addr string, topics ...string) (*Subscriber, error) {
	sock, err := zctx.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("sub socket: %w", err)
	}
	for _, t := range topics {
		if err := sock.SetSubscribe(t); err != nil {
			_ = sock.Close()
			return nil, fmt.Errorf("subscribe %q: %w", t, err)
		}
	}
	if err := sock.SetRcvtimeo(recvPoll); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("rcvtimeo: %w", err)
	}
	if err := sock.Connect(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Subscriber{sock: sock}, nil
}

// Recv blocks until the next message on a subscribed topic arrives or ctx
// is cancelled. Messages that do not match the three-part wire contract
// are skipped.
func (s *Subscriber) Recv(ctx context.Context) (changes.Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return changes.Message{}, err
		}
		parts, err := s.sock.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			return changes.Message{}, fmt.Errorf("bus recv: %w", err)
		}
		if len(parts) != 3 {
			continue
		}
		return changes.Message{
			Topic:   string(parts[0]),
			Seq:     string(parts[1]),
			Payload: parts[2],
		}, nil
	}
}

// Close releases the socket. Safe to call more than once.
func (s *Subscriber) Close() error {
	s.once.Do(func() { s.err = s.sock.Close() })
	return s.err
}
