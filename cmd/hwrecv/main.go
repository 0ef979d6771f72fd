// Command hwrecv accepts coded streams from hwenc over QUIC, writes each
// session to an Annex B file and logs the captions it carries in display
// order.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/hwcodec/internal/certs"
	"github.com/zsiec/hwcodec/internal/stream"
	"github.com/zsiec/hwcodec/internal/telemetry"
	"github.com/zsiec/hwcodec/internal/transport/quic"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate("hwcodec", certs.DefaultValidity)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	listenAddr := envOr("LISTEN_ADDR", ":4443")
	outputDir := os.Getenv("OUTPUT_DIR")
	withCaptions, err := strconv.ParseBool(envOr("CAPTIONS", "true"))
	if err != nil {
		slog.Error("invalid CAPTIONS", "error", err)
		os.Exit(1)
	}
	mqttBroker := os.Getenv("MQTT_BROKER")

	sessions := stream.NewManager(nil)
	rec := newRecorder(outputDir, withCaptions, slog.Default())
	recv, err := quic.Listen(listenAddr, cert.ServerConfig(quic.ALPN), sessions, rec.handle, nil)
	if err != nil {
		slog.Error("failed to listen", "error", err)
		os.Exit(1)
	}

	slog.Info("hwrecv starting",
		"version", version,
		"addr", recv.Addr(),
		"output_dir", outputDir,
		"captions", withCaptions,
		"cert_hash", cert.FingerprintBase64(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return recv.Serve(ctx)
	})
	if mqttBroker != "" {
		tcfg := telemetry.Config{Broker: mqttBroker}.WithDefaults()
		pub := telemetry.New(telemetry.NewClient(tcfg), tcfg, func() any { return sessions.List() }, nil)
		g.Go(func() error {
			return pub.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("receiver error", "error", err)
		os.Exit(1)
	}
	rec.wait()
	slog.Info("receiver stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
