package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zsiec/hwcodec/internal/encoder"
	"github.com/zsiec/hwcodec/internal/h264"
)

type config struct {
	width, height  int
	fpsNum, fpsDen uint32
	frames         int
	realtime       bool
	keyEvery       int
	latency        time.Duration

	common encoder.CommonParams
	avc    encoder.AVCParams

	captionsFile   string
	captionChannel int

	output          string
	srtAddr         string
	srtStreamKey    string
	quicAddr        string
	quicFingerprint string
	rtpAddr         string
	mqttBroker      string
	mqttInterval    time.Duration
}

// reorder is the number of frames a decoder holds back.
func (c config) reorder() int {
	if c.common.Profile == h264.ProfileBaseline {
		return 0
	}
	return int(c.avc.NumBFrames)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadConfig reads the encoder configuration from the environment.
func loadConfig() (config, error) {
	var c config
	p := &parser{}

	c.width = p.int("WIDTH", "1280")
	c.height = p.int("HEIGHT", "720")
	c.fpsNum, c.fpsDen = p.rate("FPS", "30")
	c.frames = p.int("FRAMES", "300")
	c.realtime = p.bool("REALTIME", "false")
	c.keyEvery = p.int("FORCE_KEY_EVERY", "0")
	c.latency = p.duration("DEVICE_LATENCY", "0s")

	profile, err := parseProfile(envOr("PROFILE", "main"))
	if err != nil {
		p.fail(err)
	}
	rc, err := parseRateControl(envOr("RATE_CONTROL", "cqp"))
	if err != nil {
		p.fail(err)
	}
	c.common = encoder.CommonParams{
		Width:          c.width,
		Height:         c.height,
		FrameRateNum:   c.fpsNum,
		FrameRateDenom: c.fpsDen,
		IntraPeriod:    uint32(p.int("INTRA_PERIOD", "30")),
		Profile:        profile,
		Level:          uint8(p.int("LEVEL", "40")),
		RateControl:    rc,
		BitRate:        uint32(p.int("BITRATE", "0")),
		InitQP:         uint32(p.int("QP", "26")),
		MinQP:          uint32(p.int("MIN_QP", "1")),
	}
	c.avc = encoder.AVCParams{
		IDRInterval:  uint32(p.int("IDR_INTERVAL", "60")),
		NumBFrames:   uint32(p.int("B_FRAMES", "0")),
		CABAC:        profile != h264.ProfileBaseline,
		Transform8x8: profile == h264.ProfileHigh,
	}

	c.captionsFile = os.Getenv("CAPTIONS_FILE")
	c.captionChannel = p.int("CAPTION_CHANNEL", "1")

	c.output = os.Getenv("OUTPUT")
	c.srtAddr = os.Getenv("SRT_ADDR")
	c.srtStreamKey = os.Getenv("SRT_STREAM_KEY")
	c.quicAddr = os.Getenv("QUIC_ADDR")
	c.quicFingerprint = os.Getenv("QUIC_FINGERPRINT")
	c.rtpAddr = os.Getenv("RTP_ADDR")
	c.mqttBroker = os.Getenv("MQTT_BROKER")
	c.mqttInterval = p.duration("MQTT_INTERVAL", "5s")

	if c.quicAddr != "" && c.quicFingerprint == "" {
		p.fail(fmt.Errorf("QUIC_FINGERPRINT is required with QUIC_ADDR"))
	}
	return c, p.err
}

// parser collects the first parse error so loadConfig reads linearly.
type parser struct {
	err error
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *parser) int(key, fallback string) int {
	v, err := strconv.Atoi(envOr(key, fallback))
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", key, err))
	}
	return v
}

func (p *parser) bool(key, fallback string) bool {
	v, err := strconv.ParseBool(envOr(key, fallback))
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", key, err))
	}
	return v
}

func (p *parser) duration(key, fallback string) time.Duration {
	v, err := time.ParseDuration(envOr(key, fallback))
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", key, err))
	}
	return v
}

// rate parses "30", "25/1" or "30000/1001".
func (p *parser) rate(key, fallback string) (num, den uint32) {
	s := envOr(key, fallback)
	n, d, found := strings.Cut(s, "/")
	if !found {
		d = "1"
	}
	nv, err1 := strconv.ParseUint(n, 10, 32)
	dv, err2 := strconv.ParseUint(d, 10, 32)
	if err1 != nil || err2 != nil || nv == 0 || dv == 0 {
		p.fail(fmt.Errorf("%s: invalid frame rate %q", key, s))
		return 0, 0
	}
	return uint32(nv), uint32(dv)
}

func parseProfile(s string) (h264.Profile, error) {
	for _, p := range []h264.Profile{h264.ProfileBaseline, h264.ProfileMain, h264.ProfileHigh} {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("PROFILE: unknown profile %q", s)
}

func parseRateControl(s string) (encoder.RateControl, error) {
	for _, rc := range []encoder.RateControl{encoder.RateControlCQP, encoder.RateControlCBR, encoder.RateControlVBR} {
		if strings.EqualFold(s, rc.String()) {
			return rc, nil
		}
	}
	return 0, fmt.Errorf("RATE_CONTROL: unknown mode %q", s)
}
