// Command changes-pub publishes one change message onto the bus inbound
// endpoint. Smoke-testing and ops tooling for the delivery path.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"os"
	"time"

	zmq "github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"github.com/aferrand/changesd/internal/bus"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// main publishes the payload given as the first argument (or on stdin) to
// the chosen topic.
func main() {
	busIn := flag.String("bus-in", envOr("CHANGES_BUS_IN", "tcp://127.0.0.1:5557"), "bus inbound (publisher) endpoint")
	topic := flag.String("topic", "*", "discussion id, or * for broadcast")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	payload := []byte(flag.Arg(0))
	if len(payload) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Fatal("read stdin", zap.Error(err))
		}
		payload = data
	}
	if !json.Valid(payload) {
		logger.Fatal("payload is not valid JSON")
	}

	zctx, err := zmq.NewContext()
	if err != nil {
		logger.Fatal("zmq context", zap.Error(err))
	}

	pub, err := bus.NewPublisher(zctx, *busIn)
	if err != nil {
		logger.Fatal("bus publisher", zap.Error(err))
	}

	// late joiner: give the subscription handshake a moment to settle or
	// the first publish vanishes
	time.Sleep(200 * time.Millisecond)

	if err := pub.Publish(*topic, payload); err != nil {
		logger.Fatal("publish", zap.Error(err))
	}
	logger.Info("published", zap.String("topic", *topic), zap.Int("bytes", len(payload)))

	_ = pub.Close()
	_ = zctx.Term()
}
