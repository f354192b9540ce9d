package main

import (
	"testing"
	"time"
)

func TestConfigValidate_OK(t *testing.T) {
	c := &appConfig{
		host:          "192.0.2.10",
		port:          4880,
		logFormat:     "text",
		logLevel:      "info",
		dialTimeout:   5 * time.Second,
		socketTimeout: time.Second,
		askWaitMS:     3000,
		remoteLocal:   -1,
	}
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_DiscoverSkipsHostRequirement(t *testing.T) {
	c := &appConfig{
		discover:      true,
		logFormat:     "json",
		logLevel:      "debug",
		dialTimeout:   time.Second,
		socketTimeout: time.Second,
		askWaitMS:     1,
		remoteLocal:   -1,
	}
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badLogFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLogLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"missingHost", func(c *appConfig) { c.host = "" }},
		{"portTooLow", func(c *appConfig) { c.port = -1 }},
		{"portTooHigh", func(c *appConfig) { c.port = 70000 }},
		{"badDialTimeout", func(c *appConfig) { c.dialTimeout = 0 }},
		{"badSocketTimeout", func(c *appConfig) { c.socketTimeout = 0 }},
		{"badAskWaitMS", func(c *appConfig) { c.askWaitMS = 0 }},
		{"remoteLocalTooLow", func(c *appConfig) { c.remoteLocal = -2 }},
		{"remoteLocalTooHigh", func(c *appConfig) { c.remoteLocal = 7 }},
	}
	for _, tc := range tests {
		base := &appConfig{
			host:          "192.0.2.10",
			port:          4880,
			logFormat:     "text",
			logLevel:      "info",
			dialTimeout:   5 * time.Second,
			socketTimeout: time.Second,
			askWaitMS:     3000,
			remoteLocal:   -1,
		}
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestConfigValidate_NilReceiver(t *testing.T) {
	var c *appConfig
	if err := c.validate(); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
