// Command changesd relays database change notifications to browser
// websocket connections, filtered per-user by discussion permissions.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
	"go.uber.org/zap"

	"github.com/aferrand/changesd/internal/authz"
	"github.com/aferrand/changesd/internal/bus"
	"github.com/aferrand/changesd/internal/server/ws"
	"github.com/aferrand/changesd/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// main parses configuration, starts the bus forwarder, and serves the
// websocket endpoint until a termination signal drains everything.
func main() {
	// Flags (environment variables supply the defaults)
	addr := flag.String("addr", envOr("CHANGES_ADDR", ":8090"), "websocket listen address")
	busIn := flag.String("bus-in", envOr("CHANGES_BUS_IN", "tcp://127.0.0.1:5557"), "bus inbound (publisher) endpoint")
	busOut := flag.String("bus-out", envOr("CHANGES_BUS_OUT", "tcp://127.0.0.1:5558"), "bus outbound (subscriber) endpoint")
	secret := flag.String("secret", os.Getenv("CHANGES_SECRET"), "token signing secret (required)")
	backendURL := flag.String("backend-url", envOr("CHANGES_BACKEND_URL", "http://127.0.0.1:6543"), "main backend base URL")
	tokenTTL := flag.Duration("token-ttl", token.DefaultTTL, "maximum accepted token age")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	if *secret == "" {
		logger.Fatal("missing token signing secret (--secret or CHANGES_SECRET)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zctx, err := zmq.NewContext()
	if err != nil {
		logger.Fatal("zmq context", zap.Error(err))
	}

	// Bus forwarder: runs until the zmq context terminates; any earlier
	// return is fatal since no delivery path exists without it.
	fwd := bus.NewForwarder(zctx, *busIn, *busOut, logger)
	fwdErr := make(chan error, 1)
	go func() { fwdErr <- fwd.Run() }()

	// Diagnostic tap: logs every message crossing the bus.
	diag, err := bus.NewSubscriber(zctx, *busOut, "")
	if err != nil {
		logger.Fatal("diagnostic subscriber", zap.Error(err))
	}
	diagCtx, stopDiag := context.WithCancel(context.Background())
	defer stopDiag()
	go bus.TapLog(diagCtx, diag, logger.Named("bus"))

	auth := authz.New(*backendURL, logger)
	codec := token.New([]byte(*secret), *tokenTTL)
	subscribe := func(topics ...string) (ws.BusSubscriber, error) {
		return bus.NewSubscriber(zctx, *busOut, topics...)
	}
	srv := ws.New(codec, auth, subscribe, logger)

	mux := http.NewServeMux()
	mux.Handle("/socket", srv)
	httpSrv := &http.Server{Addr: *addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		srv.Registry().CloseAll()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			_ = httpSrv.Close()
		}
		stopDiag()
		// unblocks the forwarder and any straggler sockets
		_ = zctx.Term()
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	case err := <-fwdErr:
		logger.Fatal("bus forwarder failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
