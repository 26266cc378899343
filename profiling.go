// profiling.go
//
// Scan-scoped diagnostics. While a scan runs, the scanner can serve pprof
// handlers next to the package's prometheus counters, and record a runtime
// execution trace covering exactly the time spent decoding.

package acdat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime/trace"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// DebugConfig selects the diagnostics attached to a scan. The zero value
// attaches nothing.
type DebugConfig struct {
	// Addr is where pprof and /metrics are served for the duration of the
	// scan, e.g. "localhost:6060".
	Addr string

	// TracePath receives the execution trace of the scan.
	TracePath string
}

func (c DebugConfig) enabled() bool { return c.Addr != "" || c.TracePath != "" }

// WithDebug attaches diagnostics to every Scan.
//
//	s := acdat.NewScanner(archive, acdat.WithDebug(acdat.DebugConfig{
//	    Addr: "localhost:6060",
//	}))
func WithDebug(cfg DebugConfig) ScannerOption {
	return func(s *Scanner) { s.debug = cfg }
}

// debugSession owns the diagnostics of one scan. A nil session is inert.
type debugSession struct {
	srv   *http.Server
	ln    net.Listener
	addr  string
	trace *os.File
	log   *logrus.Entry
}

func debugMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.HandlerFor(RegisterMetrics(), promhttp.HandlerOpts{}))
	return mux
}

// startDebug binds the listener and opens the trace before returning, so a
// bad address or path is reported to the caller instead of a goroutine.
// Whatever was started before a failure is stopped again.
func startDebug(cfg DebugConfig, log *logrus.Entry) (*debugSession, error) {
	if !cfg.enabled() {
		return nil, nil
	}
	d := &debugSession{log: log}

	if cfg.Addr != "" {
		ln, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("debug listener: %w", err)
		}
		d.ln = ln
		d.addr = ln.Addr().String()
		d.srv = &http.Server{Handler: debugMux(), ReadHeaderTimeout: 5 * time.Second}
		go func(srv *http.Server) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("debug server stopped")
			}
		}(d.srv)
		log.WithField("addr", d.addr).Info("serving pprof and metrics")
	}

	if cfg.TracePath != "" {
		f, err := os.Create(cfg.TracePath)
		if err == nil {
			if err = trace.Start(f); err != nil {
				f.Close()
			}
		}
		if err != nil {
			d.stop()
			return nil, fmt.Errorf("execution trace: %w", err)
		}
		d.trace = f
	}
	return d, nil
}

func (d *debugSession) stop() {
	if d == nil {
		return
	}
	if d.trace != nil {
		trace.Stop()
		if err := d.trace.Close(); err != nil {
			d.log.WithError(err).Warn("closing execution trace")
		}
		d.trace = nil
	}
	if d.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.srv.Shutdown(ctx); err != nil {
			d.log.WithError(err).Warn("shutting down debug server")
		}
		// Serve may not have taken ownership of the listener yet.
		_ = d.ln.Close()
		d.srv, d.ln = nil, nil
	}
}
