package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kjstillabower/weather-api/internal/apperr"
	"github.com/kjstillabower/weather-api/internal/client"
	"github.com/kjstillabower/weather-api/internal/format"
)

func serve(p http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)
	return w
}

func detailOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body %q is not JSON: %v", w.Body.String(), err)
	}
	return body.Detail
}

func TestGetCurrentWeather_JSON(t *testing.T) {
	mock := &mockWeatherClient{weather: london}
	w := serve(newTestService(t, mock, defaultTestConfig(), nil, nil), postWeather(`{"city":"London","output_format":"json"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != format.ContentTypeJSON {
		t.Errorf("Content-Type = %q", ct)
	}
	want := `{"Weather":"11.3 C","Latitude":"51.52","Longitude":"-0.11","City":"London"}`
	if w.Body.String() != want {
		t.Errorf("body = %s, want %s", w.Body.String(), want)
	}
	if mock.lastCity != "London" {
		t.Errorf("client called with %q", mock.lastCity)
	}
}

func TestGetCurrentWeather_XML(t *testing.T) {
	mock := &mockWeatherClient{weather: london}
	w := serve(newTestService(t, mock, defaultTestConfig(), nil, nil), postWeather(`{"city":"London","output_format":"xml"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != format.ContentTypeXML {
		t.Errorf("Content-Type = %q", ct)
	}
	want := `<root><Temperature>11.3</Temperature><City>London</City><Latitude>51.52</Latitude><Longitude>-0.11</Longitude></root>`
	if w.Body.String() != want {
		t.Errorf("body = %s, want %s", w.Body.String(), want)
	}
}

func TestGetCurrentWeather_InvalidInputNeverCallsUpstream(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"digits in city", `{"city":"London123","output_format":"json"}`, "city"},
		{"empty city", `{"city":"","output_format":"json"}`, "city"},
		{"missing city", `{"output_format":"json"}`, "city"},
		{"too long city", `{"city":"` + strings.Repeat("a", 101) + `","output_format":"json"}`, "city"},
		{"bad format", `{"city":"London","output_format":"yaml"}`, "output_format"},
		{"missing format", `{"city":"London"}`, "output_format"},
		{"wrong type", `{"city":42,"output_format":"json"}`, "invalid request body"},
		{"malformed json", `{"city":`, "invalid request body"},
		{"empty body", ``, "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockWeatherClient{weather: london}
			w := serve(newTestService(t, mock, defaultTestConfig(), nil, nil), postWeather(tt.body))
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422 (body %s)", w.Code, w.Body.String())
			}
			if d := detailOf(t, w); !strings.Contains(d, tt.wantField) {
				t.Errorf("detail = %q, want mention of %q", d, tt.wantField)
			}
			if mock.Calls() != 0 {
				t.Errorf("upstream called %d times", mock.Calls())
			}
		})
	}
}

func TestGetCurrentWeather_BodyTooLarge(t *testing.T) {
	mock := &mockWeatherClient{weather: london}
	handler := NewHandler(mock, HandlerConfig{MaxBodyBytes: 32}, nil)
	w := httptest.NewRecorder()
	Endpoint(handler.GetCurrentWeather).ServeHTTP(w, postWeather(`{"city":"`+strings.Repeat("a", 64)+`","output_format":"json"}`))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	if mock.Calls() != 0 {
		t.Error("upstream called for oversized body")
	}
}

func TestGetCurrentWeather_UnknownCity(t *testing.T) {
	mock := &mockWeatherClient{err: fmt.Errorf("%w: HTTP 400", client.ErrLocationNotFound)}
	w := serve(newTestService(t, mock, defaultTestConfig(), nil, nil), postWeather(`{"city":"Atlantis","output_format":"json"}`))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if d := detailOf(t, w); d != "City not found: Atlantis" {
		t.Errorf("detail = %q", d)
	}
}

func TestGetCurrentWeather_UpstreamFailure(t *testing.T) {
	mock := &mockWeatherClient{err: fmt.Errorf("%w: http request failed: connection refused", client.ErrUpstreamFailure)}
	w := serve(newTestService(t, mock, defaultTestConfig(), nil, nil), postWeather(`{"city":"London","output_format":"xml"}`))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if d := detailOf(t, w); d != "Weather service unavailable" {
		t.Errorf("detail = %q", d)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("error Content-Type = %q, want JSON even for xml requests", ct)
	}
}

func TestGetCurrentWeather_CanceledUpstreamCall(t *testing.T) {
	logger, logs := newObservedLogger()
	mock := &mockWeatherClient{err: fmt.Errorf("%w: http request failed: %w", client.ErrUpstreamFailure, context.Canceled)}
	w := serve(newTestService(t, mock, defaultTestConfig(), nil, logger), postWeather(`{"city":"London","output_format":"json"}`))

	if w.Code != apperr.StatusClientClosedRequest {
		t.Fatalf("status = %d, want %d", w.Code, apperr.StatusClientClosedRequest)
	}
	if n := logs.FilterMessage("request failed").Len(); n != 0 {
		t.Errorf("request failed entries = %d, want 0", n)
	}
}

func TestGetHealth_IndependentOfUpstream(t *testing.T) {
	logger, logs := newObservedLogger()
	mock := &mockWeatherClient{err: errors.New("provider down")}
	w := serve(newTestService(t, mock, defaultTestConfig(), nil, logger), httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["environment"] != "test" || body["message"] != "Weather API is running" {
		t.Errorf("body = %v", body)
	}
	if mock.Calls() != 0 {
		t.Error("health check called upstream")
	}
	if logs.FilterMessage("health check requested").Len() != 1 {
		t.Error("health check not logged")
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	p := newTestService(t, &mockWeatherClient{}, defaultTestConfig(), nil, nil)

	w := serve(p, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound || detailOf(t, w) != "Not Found" {
		t.Errorf("unknown path: %d %s", w.Code, w.Body.String())
	}

	w = serve(p, httptest.NewRequest(http.MethodGet, weatherPath, nil))
	if w.Code != http.StatusMethodNotAllowed || detailOf(t, w) != "Method Not Allowed" {
		t.Errorf("wrong method: %d %s", w.Code, w.Body.String())
	}
}

func TestEndpoint_StandaloneRendersError(t *testing.T) {
	handler := NewHandler(&mockWeatherClient{}, HandlerConfig{}, nil)
	w := httptest.NewRecorder()
	Endpoint(handler.GetCurrentWeather).ServeHTTP(w, postWeather(`{}`))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	p := newTestService(t, &mockWeatherClient{weather: london}, defaultTestConfig(), nil, nil)
	serve(p, postWeather(`{"city":"London","output_format":"json"}`))

	w := serve(p, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "weatherQueriesTotal") {
		t.Error("weatherQueriesTotal not exposed")
	}
}
