// Package metrics exposes Prometheus counters/gauges for the HiSLIP
// client: frames and bytes moved on each channel, lock outcomes, SRQ
// deliveries, reconnects, and errors by subsystem.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/RomainAlbert/go-hislip/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters/gauges.
var (
	SyncFramesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_sync_frames_written_total",
		Help: "Total frames written on the sync channel.",
	})
	SyncFramesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_sync_frames_read_total",
		Help: "Total frames read from the sync channel.",
	})
	AsyncFramesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_async_frames_written_total",
		Help: "Total frames written on the async channel.",
	})
	AsyncFramesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_async_frames_read_total",
		Help: "Total frames read from the async channel.",
	})
	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_bytes_written_total",
		Help: "Total frame bytes (header plus payload) written across both channels.",
	})
	BytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_bytes_read_total",
		Help: "Total frame bytes (header plus payload) read across both channels.",
	})
	LockSuccesses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_lock_success_total",
		Help: "Total lock requests and releases answered with a nonzero result.",
	})
	LockFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_lock_failure_total",
		Help: "Total lock requests and releases answered with result 0 (failure).",
	})
	SRQEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_srq_events_total",
		Help: "Total AsyncServiceRequest frames delivered to a callback.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_reconnects_total",
		Help: "Total reconnect attempts following a fatal error.",
	})
	FatalErrorsByCode = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hislip_fatal_errors_total",
		Help: "Total fatal errors observed, by code.",
	}, []string{"code"})
	RecoverableErrorsByCode = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hislip_protocol_errors_total",
		Help: "Total recoverable protocol errors observed, by code.",
	}, []string{"code"})
	Timeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hislip_timeouts_total",
		Help: "Total Ask calls that timed out waiting for a response.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hislip_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hislip_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrSyncRead   = "sync_read"
	ErrSyncWrite  = "sync_write"
	ErrAsyncRead  = "async_read"
	ErrAsyncWrite = "async_write"
	ErrHandshake  = "handshake"
	ErrReconnect  = "reconnect"
	ErrSRQ        = "srq"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging without scraping Prometheus in-process.
var (
	localSyncWritten  uint64
	localSyncRead     uint64
	localAsyncWritten uint64
	localAsyncRead    uint64
	localBytesWritten uint64
	localBytesRead    uint64
	localReconnects   uint64
	localTimeouts     uint64
	localErrors       uint64
	localSRQEvents    uint64
)

// Snapshot is a cheap copy of local counters, used by periodic log lines.
type Snapshot struct {
	SyncWritten  uint64
	SyncRead     uint64
	AsyncWritten uint64
	AsyncRead    uint64
	BytesWritten uint64
	BytesRead    uint64
	Reconnects   uint64
	Timeouts     uint64
	Errors       uint64
	SRQEvents    uint64
}

// Snap returns the current local counter values.
func Snap() Snapshot {
	return Snapshot{
		SyncWritten:  atomic.LoadUint64(&localSyncWritten),
		SyncRead:     atomic.LoadUint64(&localSyncRead),
		AsyncWritten: atomic.LoadUint64(&localAsyncWritten),
		AsyncRead:    atomic.LoadUint64(&localAsyncRead),
		BytesWritten: atomic.LoadUint64(&localBytesWritten),
		BytesRead:    atomic.LoadUint64(&localBytesRead),
		Reconnects:   atomic.LoadUint64(&localReconnects),
		Timeouts:     atomic.LoadUint64(&localTimeouts),
		Errors:       atomic.LoadUint64(&localErrors),
		SRQEvents:    atomic.LoadUint64(&localSRQEvents),
	}
}

func IncSyncWritten(n int) {
	SyncFramesWritten.Inc()
	BytesWritten.Add(float64(n))
	atomic.AddUint64(&localSyncWritten, 1)
	atomic.AddUint64(&localBytesWritten, uint64(n))
}

func IncSyncRead(n int) {
	SyncFramesRead.Inc()
	BytesRead.Add(float64(n))
	atomic.AddUint64(&localSyncRead, 1)
	atomic.AddUint64(&localBytesRead, uint64(n))
}

func IncAsyncWritten(n int) {
	AsyncFramesWritten.Inc()
	BytesWritten.Add(float64(n))
	atomic.AddUint64(&localAsyncWritten, 1)
	atomic.AddUint64(&localBytesWritten, uint64(n))
}

func IncAsyncRead(n int) {
	AsyncFramesRead.Inc()
	BytesRead.Add(float64(n))
	atomic.AddUint64(&localAsyncRead, 1)
	atomic.AddUint64(&localBytesRead, uint64(n))
}

func IncLockSuccess() { LockSuccesses.Inc() }
func IncLockFailure() { LockFailures.Inc() }

func IncSRQEvent() {
	SRQEvents.Inc()
	atomic.AddUint64(&localSRQEvents, 1)
}

func IncReconnect() {
	Reconnects.Inc()
	atomic.AddUint64(&localReconnects, 1)
}

func IncFatalError(code string)       { FatalErrorsByCode.WithLabelValues(code).Inc() }
func IncRecoverableError(code string) { RecoverableErrorsByCode.WithLabelValues(code).Inc() }

func IncTimeout() {
	Timeouts.Inc()
	atomic.AddUint64(&localTimeouts, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers common error
// label series so the first error does not pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrSyncRead, ErrSyncWrite, ErrAsyncRead, ErrAsyncWrite, ErrHandshake, ErrReconnect, ErrSRQ} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
