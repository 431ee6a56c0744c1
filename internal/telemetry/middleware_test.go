/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareLabels(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/machines/{machine}/logs", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "machine") == "press-9" {
			http.Error(w, "unknown machine", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("[]"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	tests := []struct {
		path    string
		route   string
		code    string
		machine string
	}{
		{"/machines/press-1/logs", "/machines/{machine}/logs", "2xx", "press-1"},
		{"/machines/press-9/logs", "/machines/{machine}/logs", "4xx", "press-9"},
		{"/status", "/status", "2xx", ""},
		{"/nowhere", unmatched, "4xx", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			counter := HTTPRequests.WithLabelValues(tt.route, tt.code, tt.machine)
			before := testutil.ToFloat64(counter)

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			if got := testutil.ToFloat64(counter) - before; got != 1 {
				t.Errorf("requests recorded for %s = %v, want 1", tt.path, got)
			}
		})
	}
	if got := testutil.ToFloat64(HTTPInFlight); got != 0 {
		t.Errorf("in-flight requests = %v, want 0", got)
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{http.StatusOK, "2xx"},
		{http.StatusNoContent, "2xx"},
		{http.StatusNotFound, "4xx"},
		{http.StatusServiceUnavailable, "5xx"},
	}
	for _, tt := range tests {
		if got := statusClass(tt.code); got != tt.want {
			t.Errorf("statusClass(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
