package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("collection not found") }

	tests := []struct {
		name     string
		checks   map[string]Check
		wantCode int
	}{
		{name: "no checks", checks: nil, wantCode: http.StatusOK},
		{name: "all healthy", checks: map[string]Check{"vector_index": ok, "redis": ok}, wantCode: http.StatusOK},
		{name: "one down", checks: map[string]Check{"vector_index": down, "redis": ok}, wantCode: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/healthz", NewHealthHandler("openlegalrag", "test", time.Now(), tt.checks, nil).Check)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				assert.Contains(t, w.Body.String(), "collection not found")
			}
		})
	}
}

func TestHealthHandlerReportsInitialisedComponents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name  string
		ready bool
	}{
		{name: "retrieval not yet built", ready: false},
		{name: "retrieval built", ready: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready := tt.ready
			r := gin.New()
			r.GET("/healthz", NewHealthHandler("openlegalrag", "test", time.Now(), nil,
				map[string]Initialised{"retrieval": func() bool { return ready }}).Check)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			var body struct {
				Initialised map[string]bool `json:"initialised"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, map[string]bool{"retrieval": tt.ready}, body.Initialised)
		})
	}
}
