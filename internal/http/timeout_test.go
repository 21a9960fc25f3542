package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kjstillabower/weather-api/internal/apperr"
)

func TestTimeout_FastResponsePassesThrough(t *testing.T) {
	w := httptest.NewRecorder()
	next := func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("X-Test", "1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
		return nil
	}
	if err := NewTimeout(time.Second, nil).Intercept(w, httptest.NewRequest("GET", "/", nil), next); err != nil {
		t.Fatalf("Intercept() error = %v", err)
	}
	if w.Code != http.StatusCreated || w.Body.String() != "done" || w.Header().Get("X-Test") != "1" {
		t.Errorf("got %d %q headers %v", w.Code, w.Body.String(), w.Header())
	}
}

func TestTimeout_DeadlineReturnsTimeoutAndCancelsInner(t *testing.T) {
	innerCtxErr := make(chan error, 1)
	next := func(w http.ResponseWriter, r *http.Request) error {
		<-r.Context().Done()
		innerCtxErr <- r.Context().Err()
		return nil
	}

	w := httptest.NewRecorder()
	start := time.Now()
	err := NewTimeout(50*time.Millisecond, nil).Intercept(w, httptest.NewRequest("GET", "/", nil), next)
	if apperr.KindOf(err) != apperr.KindTimeout || apperr.StatusOf(err) != http.StatusGatewayTimeout {
		t.Fatalf("error = %v, want 504 timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("took %v", elapsed)
	}
	select {
	case ctxErr := <-innerCtxErr:
		if !errors.Is(ctxErr, context.DeadlineExceeded) {
			t.Errorf("inner ctx err = %v", ctxErr)
		}
	case <-time.After(time.Second):
		t.Fatal("inner context was not cancelled")
	}
	if w.Body.Len() != 0 {
		t.Errorf("body = %q, want nothing written by the timeout stage", w.Body.String())
	}
}

func TestTimeout_InnerErrorKeepsHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	next := func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Retry-After", "7")
		return apperr.RateLimited()
	}
	err := NewTimeout(time.Second, nil).Intercept(w, httptest.NewRequest("GET", "/", nil), next)
	if apperr.KindOf(err) != apperr.KindRateLimited {
		t.Fatalf("error = %v", err)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" || w.Header().Get("Retry-After") != "7" {
		t.Errorf("headers = %v", w.Header())
	}
}

func TestTimeout_PanicInInnerChainBecomesInternal(t *testing.T) {
	next := func(http.ResponseWriter, *http.Request) error { panic("boom") }
	err := NewTimeout(time.Second, nil).Intercept(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil), next)
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Errorf("error = %v, want internal", err)
	}
}

func TestTimeout_Disabled(t *testing.T) {
	w := httptest.NewRecorder()
	if err := NewTimeout(0, nil).Intercept(w, httptest.NewRequest("GET", "/", nil), nextWriting(200, "x")); err != nil {
		t.Fatal(err)
	}
	if w.Body.String() != "x" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestTimeoutWriter_DropsWritesAfterDeadline(t *testing.T) {
	tw := &timeoutWriter{header: make(http.Header), code: http.StatusOK}
	_, _ = tw.Write([]byte("early"))
	tw.mu.Lock()
	tw.timedOut = true
	tw.mu.Unlock()

	if _, err := tw.Write([]byte("late")); !errors.Is(err, http.ErrHandlerTimeout) {
		t.Errorf("Write() error = %v, want ErrHandlerTimeout", err)
	}
	tw.WriteHeader(http.StatusTeapot)
	if tw.code != http.StatusOK || tw.buf.String() != "early" {
		t.Errorf("code %d body %q", tw.code, tw.buf.String())
	}
}

func TestTimeout_CallerGoneIsCanceledNotTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	next := func(w http.ResponseWriter, r *http.Request) error {
		<-release
		return nil
	}

	parent, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/", nil).WithContext(parent)
	cancel()

	err := NewTimeout(time.Second, nil).Intercept(httptest.NewRecorder(), req, next)
	if apperr.KindOf(err) != apperr.KindCanceled {
		t.Fatalf("error = %v, want canceled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want wrapped context.Canceled", err)
	}
	if apperr.StatusOf(err) == http.StatusInternalServerError {
		t.Error("caller cancellation rendered as 500")
	}
}
