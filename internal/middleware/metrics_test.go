package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"explicit status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusConflict) }, http.StatusConflict},
		{"implicit 200", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }, http.StatusOK},
		{"no write", func(w http.ResponseWriter, r *http.Request) {}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := &countingStatusRecorder{}
			NewMetricsMiddleware(recorder)(tt.handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
			if len(recorder.statuses) != 1 || recorder.statuses[0] != tt.want {
				t.Errorf("recorded = %v, want [%d]", recorder.statuses, tt.want)
			}
		})
	}
}
