package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Serve runs the observability endpoint until ctx is cancelled. It exposes
// the Prometheus registry on /metrics and, when stream and sse are non-nil,
// the live measurement feed on /stream and /stream/sse.
func Serve(ctx context.Context, addr string, stream, sse http.Handler, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if stream != nil {
		mux.Handle("/stream", stream)
	}
	if sse != nil {
		mux.Handle("/stream/sse", sse)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		if log != nil {
			log.Info("metrics server starting", "addr", addr)
		}
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			if log != nil {
				log.Error("metrics server shutdown failed", "error", err)
			}
			return err
		}
		if log != nil {
			log.Info("metrics server stopped")
		}
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
