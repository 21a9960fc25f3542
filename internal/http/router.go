package http

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/weather-api/internal/apperr"
	"github.com/kjstillabower/weather-api/internal/observability"
)

const weatherPath = "/api/v1/getCurrentWeather"

// Endpoint is an error-returning handler. Inside the pipeline its error is handed back
// to the chain; used standalone it renders the error itself.
type Endpoint func(w http.ResponseWriter, r *http.Request) error

func (e Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := e(w, r)
	if err == nil {
		return
	}
	if slot, ok := r.Context().Value(errorSlotKey{}).(*error); ok {
		*slot = err
		return
	}
	writeError(w, apperr.As(err))
}

type errorSlotKey struct{}

// Dispatch makes router the innermost stage of a pipeline, returning the routed
// endpoint's error to the interceptors.
func Dispatch(router http.Handler) Next {
	return func(w http.ResponseWriter, r *http.Request) error {
		var err error
		router.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), errorSlotKey{}, &err)))
		return err
	}
}

// NewRouter registers the service routes. Unknown paths and methods become 404 and 405
// errors for the error handler.
func NewRouter(h *Handler) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/", Endpoint(h.GetHealth)).Methods(http.MethodGet)
	router.Handle(weatherPath, Endpoint(h.GetCurrentWeather)).Methods(http.MethodPost)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	router.NotFoundHandler = Endpoint(func(http.ResponseWriter, *http.Request) error {
		return apperr.HTTP(http.StatusNotFound)
	})
	router.MethodNotAllowedHandler = Endpoint(func(http.ResponseWriter, *http.Request) error {
		return apperr.HTTP(http.StatusMethodNotAllowed)
	})
	return router
}
