package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-api/internal/apperr"
	"github.com/kjstillabower/weather-api/internal/observability"
)

// Timeout bounds the rest of the chain. The inner stages run against a buffered writer
// so a late response can be discarded once the deadline passes; the cancelled context
// reaches the outbound weather call.
type Timeout struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewTimeout(timeout time.Duration, logger *zap.Logger) *Timeout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timeout{timeout: timeout, logger: logger}
}

func (t *Timeout) Name() string { return "timeout" }

func (t *Timeout) Intercept(w http.ResponseWriter, r *http.Request, next Next) error {
	if t.timeout <= 0 {
		return next(w, r)
	}
	ctx, cancel := context.WithTimeout(r.Context(), t.timeout)
	defer cancel()
	r = r.WithContext(ctx)

	tw := &timeoutWriter{header: make(http.Header), code: http.StatusOK}
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				observability.LoggerFrom(r.Context(), t.logger).Error("recovered from panic",
					zap.Any("panic", p), zap.Stack("stack"))
				done <- apperr.Internal(fmt.Errorf("panic: %v", p))
			}
		}()
		done <- next(tw, r)
	}()

	select {
	case err := <-done:
		tw.mu.Lock()
		defer tw.mu.Unlock()
		dst := w.Header()
		for k, v := range tw.header {
			dst[k] = v
		}
		if err != nil {
			return err
		}
		if tw.wroteHeader {
			w.WriteHeader(tw.code)
		}
		if tw.buf.Len() > 0 {
			_, _ = w.Write(tw.buf.Bytes())
		}
		return nil
	case <-ctx.Done():
		tw.mu.Lock()
		tw.timedOut = true
		tw.mu.Unlock()
		err := ctx.Err()
		if !errors.Is(err, context.DeadlineExceeded) {
			return apperr.Canceled(err)
		}
		observability.RequestTimeoutsTotal.Inc()
		observability.LoggerFrom(r.Context(), t.logger).Warn("request timed out",
			zap.String("path", r.URL.Path), zap.Duration("timeout", t.timeout))
		return apperr.Timeout(err)
	}
}

// timeoutWriter buffers the inner response. Writes after the deadline fail with
// http.ErrHandlerTimeout and are dropped.
type timeoutWriter struct {
	header http.Header

	mu          sync.Mutex
	buf         bytes.Buffer
	code        int
	wroteHeader bool
	timedOut    bool
}

func (tw *timeoutWriter) Header() http.Header { return tw.header }

func (tw *timeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if !tw.wroteHeader {
		tw.writeHeaderLocked(http.StatusOK)
	}
	return tw.buf.Write(p)
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) writeHeaderLocked(code int) {
	tw.code = code
	tw.wroteHeader = true
}
