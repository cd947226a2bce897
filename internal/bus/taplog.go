package bus

import (
	"context"

	"go.uber.org/zap"
)

// TapLog drains sub and logs every message it sees until ctx is cancelled.
// Purely an operational tap: delivery correctness never depends on it.
func TapLog(ctx context.Context, sub *Subscriber, log *zap.Logger) {
	defer func() { _ = sub.Close() }()
	for {
		msg, err := sub.Recv(ctx)
		if err != nil {
			return
		}
		log.Debug("bus message",
			zap.String("topic", msg.Topic),
			zap.String("seq", msg.Seq),
			zap.Int("bytes", len(msg.Payload)),
		)
	}
}
