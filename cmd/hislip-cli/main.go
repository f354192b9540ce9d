package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/RomainAlbert/go-hislip"
	"github.com/RomainAlbert/go-hislip/internal/discovery"
	"github.com/RomainAlbert/go-hislip/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("hislip-cli %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
	}()

	if cfg.discover {
		runDiscover(ctx, l)
		return
	}

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	defer wg.Wait()

	cleanupMDNS, err := startMDNS(ctx, cfg)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
	} else {
		defer cleanupMDNS()
	}

	c, err := hislip.Connect(ctx, cfg.host, cfg.port,
		hislip.WithVendorID(cfg.vendorID),
		hislip.WithSubAddress(cfg.subAddress),
		hislip.WithDialTimeout(cfg.dialTimeout),
		hislip.WithSocketTimeout(cfg.socketTimeout),
		hislip.WithLogger(l),
	)
	if err != nil {
		l.Error("connect_failed", "host", cfg.host, "port", cfg.port, "error", err)
		os.Exit(1)
	}
	defer c.Close()
	c.SetLockTimeout(cfg.lockTimeout)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })

	if cfg.interactive {
		if err := runInteractive(ctx, c, l, os.Stdin, os.Stdout); err != nil {
			l.Error("interactive_error", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runOneShot(ctx, c, cfg, l); err != nil {
		l.Error("command_failed", "error", err)
		os.Exit(1)
	}
}

func runDiscover(ctx context.Context, l *slog.Logger) {
	instruments, err := discovery.Discover(ctx, 3*time.Second)
	if err != nil {
		l.Error("discover_failed", "error", err)
		os.Exit(1)
	}
	if len(instruments) == 0 {
		fmt.Println("no HiSLIP instruments found")
		return
	}
	for _, inst := range instruments {
		fmt.Printf("%s\t%s:%d\t%v\n", inst.Name, inst.Host, inst.Port, inst.TXT)
	}
}
