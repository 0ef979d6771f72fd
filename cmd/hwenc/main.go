// Command hwenc runs an encode session on the loopback device: a synthetic
// frame source, optionally carrying CEA-608 captions from an SRT subtitle
// file, is encoded to H.264 and delivered to any combination of a file, an
// SRT listener, a QUIC receiver and an RTP peer.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/hwcodec/internal/backend/loopback"
	"github.com/zsiec/hwcodec/internal/captions"
	"github.com/zsiec/hwcodec/internal/certs"
	"github.com/zsiec/hwcodec/internal/encoder"
	"github.com/zsiec/hwcodec/internal/pipeline"
	"github.com/zsiec/hwcodec/internal/telemetry"
	"github.com/zsiec/hwcodec/internal/transport/quic"
	"github.com/zsiec/hwcodec/internal/transport/rtp"
	"github.com/zsiec/hwcodec/internal/transport/srt"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		slog.Error("encode failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	dev := loopback.New(loopback.Config{Latency: cfg.latency}, nil)
	defer dev.Close()

	enc, err := encoder.New(dev, nil)
	if err != nil {
		return err
	}
	if err := enc.SetParameters(&cfg.common); err != nil {
		return err
	}
	if err := enc.SetParameters(&cfg.avc); err != nil {
		return err
	}
	if err := enc.Start(); err != nil {
		return err
	}
	defer enc.Stop()

	scfg := pipeline.SyntheticConfig{
		Frames:         cfg.frames,
		FrameRateNum:   cfg.fpsNum,
		FrameRateDenom: cfg.fpsDen,
		Realtime:       cfg.realtime,
		KeyEvery:       cfg.keyEvery,
	}
	if cfg.captionsFile != "" {
		sched, err := loadCaptions(cfg.captionsFile, cfg.captionChannel, float64(cfg.fpsNum)/float64(cfg.fpsDen))
		if err != nil {
			return err
		}
		slog.Info("captions loaded", "file", cfg.captionsFile, "channel", cfg.captionChannel, "frames", sched.Frames())
		scfg.Captions = sched
	}
	src, err := pipeline.NewSynthetic(scfg, dev)
	if err != nil {
		return err
	}

	var sinks []pipeline.Sink
	var file *fileSink
	if cfg.output != "" {
		if file, err = newFileSink(cfg.output); err != nil {
			return err
		}
		defer file.discard()
		sinks = append(sinks, file)
	}
	if cfg.srtAddr != "" {
		pub, err := srt.Dial(ctx, srt.Config{
			Addr:          cfg.srtAddr,
			StreamKey:     cfg.srtStreamKey,
			FrameDuration: 90000 * int64(cfg.fpsDen) / int64(cfg.fpsNum),
			Reorder:       cfg.reorder(),
		}, nil)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}
	if cfg.quicAddr != "" {
		fp, err := certs.ParseFingerprint(cfg.quicFingerprint)
		if err != nil {
			return err
		}
		pub, err := quic.Dial(ctx, quic.PublisherConfig{
			Addr: cfg.quicAddr,
			TLS:  certs.PinnedClientConfig(fp, quic.ALPN),
		}, nil)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}
	if cfg.rtpAddr != "" {
		s, err := rtp.Dial(rtp.Config{Addr: cfg.rtpAddr}, nil)
		if err != nil {
			return err
		}
		defer s.Close()
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		slog.Warn("no outputs configured, coded frames are discarded")
	}

	slog.Info("hwenc starting",
		"version", version,
		"resolution", fmt.Sprintf("%dx%d", cfg.width, cfg.height),
		"fps", fmt.Sprintf("%d/%d", cfg.fpsNum, cfg.fpsDen),
		"profile", cfg.common.Profile,
		"rate_control", cfg.common.RateControl,
		"b_frames", cfg.avc.NumBFrames,
		"max_output_size", enc.MaxOutputSize(),
		"outputs", len(sinks),
	)

	pipe := pipeline.New(enc, src, nil, sinks...)

	g, gctx := errgroup.WithContext(ctx)
	auxCtx, stopAux := context.WithCancel(gctx)
	defer stopAux()

	g.Go(func() error {
		defer stopAux()
		return pipe.Run(gctx)
	})
	if cfg.mqttBroker != "" {
		tcfg := telemetry.Config{Broker: cfg.mqttBroker, Interval: cfg.mqttInterval}.WithDefaults()
		pub := telemetry.New(telemetry.NewClient(tcfg), tcfg, func() any { return pipe.Stats() }, nil)
		g.Go(func() error {
			return pub.Run(auxCtx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	st := pipe.Stats()
	if file != nil {
		n, err := file.commit()
		if err != nil {
			return fmt.Errorf("write %s: %w", cfg.output, err)
		}
		slog.Info("output written", "path", cfg.output, "bytes", n)
	}
	slog.Info("encode complete",
		"frames", st.FramesOut,
		"keyframes", st.KeyFrames,
		"bytes", st.BytesOut,
		"codec", st.CodecString,
		"uptime_ms", st.UptimeMs,
	)
	return nil
}

func loadCaptions(path string, channel int, fps float64) (*captions.Schedule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cues, err := captions.ParseSRT(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return captions.NewSchedule(fps, captions.Track{Channel: channel, Cues: cues})
}
