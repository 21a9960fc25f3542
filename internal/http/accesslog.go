package http

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-api/internal/apperr"
	"github.com/kjstillabower/weather-api/internal/observability"
)

// AccessLog writes one line when a request enters and one when it completes.
type AccessLog struct {
	trustForwardedFor bool
	logger            *zap.Logger
}

func NewAccessLog(trustForwardedFor bool, logger *zap.Logger) *AccessLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessLog{trustForwardedFor: trustForwardedFor, logger: logger}
}

func (a *AccessLog) Name() string { return "access_log" }

func (a *AccessLog) Intercept(w http.ResponseWriter, r *http.Request, next Next) error {
	start := time.Now()
	logger := observability.LoggerFrom(r.Context(), a.logger).With(
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("caller", CallerIdentity(r, a.trustForwardedFor)),
	)
	logger.Info("incoming request", zap.Time("timestamp", start))

	recorder := newStatusRecorder(w)
	var err error
	defer func() {
		status := recorder.statusCode
		p := recover()
		switch {
		case p != nil:
			status = http.StatusInternalServerError
		case err != nil:
			status = apperr.StatusOf(err)
		}
		logger.Info("completed request",
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)))
		if p != nil {
			panic(p)
		}
	}()
	err = next(recorder, r)
	return err
}
