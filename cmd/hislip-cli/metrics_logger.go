package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/RomainAlbert/go-hislip/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"sync_written", snap.SyncWritten,
					"sync_read", snap.SyncRead,
					"async_written", snap.AsyncWritten,
					"async_read", snap.AsyncRead,
					"bytes_written", snap.BytesWritten,
					"bytes_read", snap.BytesRead,
					"reconnects", snap.Reconnects,
					"timeouts", snap.Timeouts,
					"errors", snap.Errors,
					"srq_events", snap.SRQEvents,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
