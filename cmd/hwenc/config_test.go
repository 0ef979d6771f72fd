package main

import (
	"testing"

	"github.com/zsiec/hwcodec/internal/encoder"
	"github.com/zsiec/hwcodec/internal/h264"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.common.Width != 1280 || cfg.common.Height != 720 {
		t.Errorf("resolution: got %dx%d", cfg.common.Width, cfg.common.Height)
	}
	if cfg.fpsNum != 30 || cfg.fpsDen != 1 {
		t.Errorf("fps: got %d/%d", cfg.fpsNum, cfg.fpsDen)
	}
	if cfg.common.Profile != h264.ProfileMain || !cfg.avc.CABAC || cfg.avc.Transform8x8 {
		t.Errorf("profile settings: %+v %+v", cfg.common, cfg.avc)
	}
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("FPS", "30000/1001")
	t.Setenv("PROFILE", "High")
	t.Setenv("RATE_CONTROL", "cbr")
	t.Setenv("BITRATE", "4000000")
	t.Setenv("B_FRAMES", "2")
	t.Setenv("MQTT_INTERVAL", "1s")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.fpsNum != 30000 || cfg.fpsDen != 1001 {
		t.Errorf("fps: got %d/%d", cfg.fpsNum, cfg.fpsDen)
	}
	if cfg.common.Profile != h264.ProfileHigh || !cfg.avc.Transform8x8 {
		t.Errorf("profile: got %v transform8x8=%v", cfg.common.Profile, cfg.avc.Transform8x8)
	}
	if cfg.common.RateControl != encoder.RateControlCBR || cfg.common.BitRate != 4000000 {
		t.Errorf("rate control: got %v %d", cfg.common.RateControl, cfg.common.BitRate)
	}
	if cfg.avc.NumBFrames != 2 {
		t.Errorf("b frames: got %d", cfg.avc.NumBFrames)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"WIDTH", "wide"},
		{"FPS", "30/0"},
		{"FPS", "x/1"},
		{"PROFILE", "extended"},
		{"RATE_CONTROL", "abr"},
		{"REALTIME", "maybe"},
		{"DEVICE_LATENCY", "5"},
		{"QUIC_ADDR", "127.0.0.1:4443"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := loadConfig(); err == nil {
				t.Errorf("%s=%q: expected error", tt.key, tt.value)
			}
		})
	}
}
