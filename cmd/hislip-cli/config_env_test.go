package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := &appConfig{
		host:            "",
		port:            0,
		vendorID:        "ZL",
		subAddress:      "hislip0",
		logFormat:       "text",
		logLevel:        "info",
		metricsAddr:     "",
		logMetricsEvery: 0,
		mdnsEnable:      false,
		mdnsName:        "",
	}

	os.Setenv("HISLIP_HOST", "192.0.2.10")
	os.Setenv("HISLIP_PORT", "5025")
	os.Setenv("HISLIP_MDNS_ENABLE", "true")
	os.Setenv("HISLIP_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("HISLIP_HOST")
		os.Unsetenv("HISLIP_PORT")
		os.Unsetenv("HISLIP_MDNS_ENABLE")
		os.Unsetenv("HISLIP_LOG_METRICS_INTERVAL")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.host != "192.0.2.10" {
		t.Fatalf("expected host override, got %q", base.host)
	}
	if base.port != 5025 {
		t.Fatalf("expected port override, got %d", base.port)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{host: "explicit-host"}
	os.Setenv("HISLIP_HOST", "env-host")
	t.Cleanup(func() { os.Unsetenv("HISLIP_HOST") })
	// Simulate user passed -host flag (so env should be ignored).
	if err := applyEnvOverrides(base, map[string]struct{}{"host": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.host != "explicit-host" {
		t.Fatalf("expected host unchanged, got %q", base.host)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{port: 4880}
	os.Setenv("HISLIP_PORT", "notint")
	t.Cleanup(func() { os.Unsetenv("HISLIP_PORT") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

func TestApplyEnvOverrides_BadDuration(t *testing.T) {
	base := &appConfig{}
	os.Setenv("HISLIP_LOG_METRICS_INTERVAL", "notaduration")
	t.Cleanup(func() { os.Unsetenv("HISLIP_LOG_METRICS_INTERVAL") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}
