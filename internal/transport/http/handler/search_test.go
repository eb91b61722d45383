package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"openlegalrag/internal/app"
	"openlegalrag/internal/search"
)

type fakeSearch struct {
	err error
}

func (f *fakeSearch) Search(context.Context, app.SearchRequest) (map[string][]search.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return map[string][]search.Result{
		search.TargetCourtListener: {{RefTag: 1, CaseName: "Doe v. Roe"}},
	}, nil
}

func newSearchRouter(svc SearchService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/search", NewSearchHandler(svc).Search)
	return r
}

func TestSearchHandler(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{name: "ok", wantCode: http.StatusOK, wantBody: `"courtlistener":[{"ref_tag":1`},
		{name: "invalid input", err: app.ErrEmptySearchStatement, wantCode: http.StatusBadRequest, wantBody: "Search statement cannot be empty."},
		{
			name:     "upstream failure",
			err:      fmt.Errorf("%w: status 500", app.ErrSearchFailed),
			wantCode: http.StatusBadGateway,
			wantBody: "Could not search for court opinions on Court Listener.",
		},
		{name: "unexpected error", err: errors.New("boom"), wantCode: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newSearchRouter(&fakeSearch{err: tt.err})
			w := postJSON(r, "/api/search", `{"search_statement":"tort","search_target":"courtlistener"}`)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}
