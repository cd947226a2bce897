package bus

import (
	"fmt"
	"strconv"
	"sync"

	zmq "github.com/pebbe/zmq4"
)

// Publisher publishes change messages on the forwarder's inbound endpoint.
// The sequence number it stamps is scoped to the publisher's lifetime and
// serves diagnostic ordering only.
type Publisher struct {
	mu   sync.Mutex
	sock *zmq.Socket
	seq  uint64
}

// NewPublisher connects a PUB socket to the forwarder's inbound endpoint.
func NewPublisher(zctx *zmq.Context, addr string) (*Publisher, error) {
	sock, err := zctx.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("pub socket: %w", err)
	}
	if err := sock.Connect(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Publisher{sock: sock}, nil
}

// Publish sends payload on topic with the next sequence number.
func (p *Publisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	_, err := p.sock.SendMessage(topic, strconv.FormatUint(p.seq, 10), payload)
	return err
}

// Close releases the socket.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock.Close()
}
