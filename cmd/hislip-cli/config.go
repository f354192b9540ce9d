package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	host       string
	port       int
	vendorID   string
	subAddress string

	logFormat string
	logLevel  string

	dialTimeout   time.Duration
	socketTimeout time.Duration
	lockTimeout   time.Duration
	askWaitMS     int

	write          string
	ask            string
	status         bool
	lock           string
	lockSet        bool
	unlock         bool
	clear          bool
	trigger        bool
	remoteLocal    int
	maxMessageSize uint64
	srqWait        bool
	interactive    bool
	discover       bool

	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	host := flag.String("host", "", "Instrument hostname or IP address")
	port := flag.Int("port", 0, "Instrument TCP port (0 = default 4880)")
	vendorID := flag.String("vendor-id", "ZL", "Two-ASCII-byte vendor id advertised at Initialize")
	subAddress := flag.String("sub-address", "hislip0", "HiSLIP sub-address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	dialTimeout := flag.Duration("dial-timeout", 5*time.Second, "TCP dial timeout")
	socketTimeout := flag.Duration("socket-timeout", time.Second, "Per-call socket timeout")
	lockTimeout := flag.Duration("lock-timeout", 3*time.Second, "Lock acquisition timeout sent to the server")
	askWaitMS := flag.Int("ask-wait-ms", 3000, "Milliseconds to wait for an ask response")
	write := flag.String("write", "", "Write this payload and exit")
	ask := flag.String("ask", "", "Write this payload, read back the response, print it, and exit")
	status := flag.Bool("status", false, "Query status byte and exit")
	lock := flag.String("lock", "", `Request a lock; empty string (use "-lock=" ) means exclusive, nonempty is the shared lock name`)
	unlock := flag.Bool("unlock", false, "Release the lock and exit")
	clear := flag.Bool("clear", false, "Run device_clear and exit")
	trigger := flag.Bool("trigger", false, "Send Trigger and exit")
	remoteLocal := flag.Int("remote-local", -1, "Send AsyncRemoteLocalControl with this request code (0..6) and exit")
	maxMessageSize := flag.Uint64("max-message-size", 0, "Negotiate this maximum message size and exit (0 = skip)")
	srqWait := flag.Bool("srq-wait", false, "Block waiting for one SRQ, print its payload, and exit")
	interactive := flag.Bool("interactive", false, "Start an interactive REPL")
	discover := flag.Bool("discover", false, "Browse mDNS for HiSLIP instruments and exit")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	mdnsEnable := flag.Bool("mdns-enable", false, "Advertise this CLI session via mDNS")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default hislip-cli-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.host = *host
	cfg.port = *port
	cfg.vendorID = *vendorID
	cfg.subAddress = *subAddress
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.dialTimeout = *dialTimeout
	cfg.socketTimeout = *socketTimeout
	cfg.lockTimeout = *lockTimeout
	cfg.askWaitMS = *askWaitMS
	cfg.write = *write
	cfg.ask = *ask
	cfg.status = *status
	cfg.lock = *lock
	_, cfg.lockSet = setFlags["lock"]
	cfg.unlock = *unlock
	cfg.clear = *clear
	cfg.trigger = *trigger
	cfg.remoteLocal = *remoteLocal
	cfg.maxMessageSize = *maxMessageSize
	cfg.srqWait = *srqWait
	cfg.interactive = *interactive
	cfg.discover = *discover
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed
// configuration. It does not attempt to dial the instrument.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if !c.discover && c.host == "" {
		return errors.New("host must be set unless -discover is used")
	}
	if c.port < 0 || c.port > 65535 {
		return fmt.Errorf("port out of range: %d", c.port)
	}
	if c.dialTimeout <= 0 {
		return errors.New("dial-timeout must be > 0")
	}
	if c.socketTimeout <= 0 {
		return errors.New("socket-timeout must be > 0")
	}
	if c.askWaitMS <= 0 {
		return errors.New("ask-wait-ms must be > 0")
	}
	if c.remoteLocal != -1 && (c.remoteLocal < 0 || c.remoteLocal > 6) {
		return fmt.Errorf("remote-local must be 0..6, got %d", c.remoteLocal)
	}
	return nil
}

// applyEnvOverrides maps HISLIP_* environment variables to config fields
// unless a corresponding flag was explicitly set.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["host"]; !ok {
		if v, ok := get("HISLIP_HOST"); ok && v != "" {
			c.host = v
		}
	}
	if _, ok := set["port"]; !ok {
		if v, ok := get("HISLIP_PORT"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				c.port = n
			} else {
				firstErr = firstNonNil(firstErr, fmt.Errorf("invalid HISLIP_PORT: %w", err))
			}
		}
	}
	if _, ok := set["vendor-id"]; !ok {
		if v, ok := get("HISLIP_VENDOR_ID"); ok && v != "" {
			c.vendorID = v
		}
	}
	if _, ok := set["sub-address"]; !ok {
		if v, ok := get("HISLIP_SUB_ADDRESS"); ok && v != "" {
			c.subAddress = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("HISLIP_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("HISLIP_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("HISLIP_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("HISLIP_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("HISLIP_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("HISLIP_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil {
				firstErr = firstNonNil(firstErr, fmt.Errorf("invalid HISLIP_LOG_METRICS_INTERVAL: %w", err))
			}
		}
	}
	return firstErr
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
