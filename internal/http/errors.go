package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-api/internal/apperr"
	"github.com/kjstillabower/weather-api/internal/observability"
)

// ErrorHandler is the outermost stage. It turns returned errors and panics into
// {"detail": ...} responses and is the only place errors reach the wire.
type ErrorHandler struct {
	trustForwardedFor bool
	logger            *zap.Logger
}

func NewErrorHandler(trustForwardedFor bool, logger *zap.Logger) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{trustForwardedFor: trustForwardedFor, logger: logger}
}

func (h *ErrorHandler) Name() string { return "error_handler" }

func (h *ErrorHandler) Intercept(w http.ResponseWriter, r *http.Request, next Next) error {
	recorder := newStatusRecorder(w)
	err := h.run(recorder, r, next)
	if err == nil {
		return nil
	}

	e := apperr.As(err)
	logger := observability.LoggerFrom(r.Context(), h.logger)
	fields := []zap.Field{
		zap.String("caller", CallerIdentity(r, h.trustForwardedFor)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("kind", e.Kind.String()),
		zap.Int("status", e.Status),
	}
	if e.Err != nil {
		fields = append(fields, zap.Error(e.Err))
	}
	switch {
	case e.Kind == apperr.KindCanceled:
		logger.Info("request canceled by caller", fields...)
	case e.Status >= http.StatusInternalServerError:
		logger.Error("request failed", fields...)
	default:
		logger.Warn("request rejected", fields...)
	}
	observability.PipelineErrorsTotal.WithLabelValues(e.Kind.String()).Inc()

	if recorder.wroteHeader {
		logger.Warn("response already started, error not rendered", zap.Int("written_status", recorder.statusCode))
		return nil
	}
	writeError(recorder, e)
	return nil
}

func (h *ErrorHandler) run(w http.ResponseWriter, r *http.Request, next Next) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				panic(p)
			}
			observability.LoggerFrom(r.Context(), h.logger).Error("recovered from panic",
				zap.Any("panic", p), zap.Stack("stack"))
			err = apperr.Internal(fmt.Errorf("panic: %v", p))
		}
	}()
	return next(w, r)
}

type errorBody struct {
	Detail string `json:"detail"`
}

// writeError renders e. Causes of Internal and UpstreamUnavailable errors never leave the process.
func writeError(w http.ResponseWriter, e *apperr.Error) {
	writeJSON(w, e.Status, errorBody{Detail: e.PublicDetail()})
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
