package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-api/internal/apperr"
	"github.com/kjstillabower/weather-api/internal/client"
	"github.com/kjstillabower/weather-api/internal/format"
	"github.com/kjstillabower/weather-api/internal/models"
	"github.com/kjstillabower/weather-api/internal/observability"
	"github.com/kjstillabower/weather-api/internal/validation"
)

const defaultMaxBodyBytes = 1 << 20

// HandlerConfig holds the settings the endpoints read.
type HandlerConfig struct {
	Environment  string
	MaxBodyBytes int64
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	client client.WeatherClient
	cfg    HandlerConfig
	logger *zap.Logger
}

// NewHandler returns a new Handler.
func NewHandler(c client.WeatherClient, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{client: c, cfg: cfg, logger: logger}
}

// GetCurrentWeather handles POST /api/v1/getCurrentWeather.
func (h *Handler) GetCurrentWeather(w http.ResponseWriter, r *http.Request) error {
	var query models.WeatherQuery
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err := dec.Decode(&query); err != nil {
		return apperr.Validation(decodeDetail(err), err)
	}
	if err := validation.ValidateQuery(query); err != nil {
		return apperr.Validation(err.Error(), err)
	}

	logger := observability.LoggerFrom(r.Context(), h.logger)
	data, err := h.client.GetCurrentWeather(r.Context(), query.City)
	if err != nil {
		if errors.Is(err, client.ErrLocationNotFound) {
			return apperr.NotFound("City not found: "+query.City, err)
		}
		if errors.Is(err, context.Canceled) {
			return apperr.Canceled(err)
		}
		return apperr.UpstreamUnavailable(err)
	}

	rendered, err := format.Render(data, format.Format(query.OutputFormat))
	if err != nil {
		return apperr.Internal(err)
	}
	w.Header().Set("Content-Type", rendered.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rendered.Body); err != nil {
		logger.Debug("write response failed", zap.Error(err))
	}
	observability.RecordWeatherQuery(query.City, query.OutputFormat)
	logger.Info("weather request served",
		zap.String("city", query.City),
		zap.String("output_format", query.OutputFormat))
	return nil
}

func decodeDetail(err error) string {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return "request body is empty"
	case errors.As(err, &maxErr):
		return fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)
	default:
		return "invalid request body: " + err.Error()
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Message     string `json:"message"`
}

// GetHealth handles GET /. It never consults the weather provider.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) error {
	observability.LoggerFrom(r.Context(), h.logger).Info("health check requested")
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		Environment: h.cfg.Environment,
		Message:     "Weather API is running",
	})
	return nil
}
