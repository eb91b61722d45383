package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openlegalrag/internal/model"
	"openlegalrag/internal/transport/http/response"
)

type fakeRecordStore struct {
	records   []model.CompletionRecord
	err       error
	lastModel string
	lastLimit int
}

func (f *fakeRecordStore) GetByRequestID(requestID string) (*model.CompletionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range f.records {
		if f.records[i].RequestID == requestID {
			return &f.records[i], nil
		}
	}
	return nil, nil
}

func (f *fakeRecordStore) ListRecentByModel(modelID string, limit int) ([]model.CompletionRecord, error) {
	f.lastModel, f.lastLimit = modelID, limit
	if f.err != nil {
		return nil, f.err
	}
	var out []model.CompletionRecord
	for _, r := range f.records {
		if modelID == "" || r.Model == modelID {
			out = append(out, r)
		}
	}
	return out, nil
}

func newCompletionsRouter(store CompletionRecordStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewCompletionsHandler(store)
	r.GET("/api/completions", h.List)
	r.GET("/api/completions/:request_id", h.Get)
	return r
}

func TestCompletionsHandlerGet(t *testing.T) {
	store := &fakeRecordStore{records: []model.CompletionRecord{
		{RequestID: "req-1", Model: "ollama/llama3", Message: "what is res judicata?"},
	}}

	tests := []struct {
		name     string
		store    *fakeRecordStore
		path     string
		wantCode int
		wantBody int
	}{
		{name: "found", store: store, path: "/api/completions/req-1", wantCode: http.StatusOK, wantBody: response.CodeOK},
		{name: "missing", store: store, path: "/api/completions/req-2", wantCode: http.StatusNotFound, wantBody: response.CodeNotFound},
		{name: "store error", store: &fakeRecordStore{err: errors.New("db down")}, path: "/api/completions/req-1",
			wantCode: http.StatusInternalServerError, wantBody: response.CodeInternalServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newCompletionsRouter(tt.store).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, w.Code)
			var body struct {
				Code int                     `json:"code"`
				Data *model.CompletionRecord `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Code)
			if tt.wantCode == http.StatusOK {
				require.NotNil(t, body.Data)
				assert.Equal(t, "what is res judicata?", body.Data.Message)
			}
		})
	}
}

func TestCompletionsHandlerList(t *testing.T) {
	records := []model.CompletionRecord{
		{RequestID: "a", Model: "ollama/llama3"},
		{RequestID: "b", Model: "openai/gpt-4o"},
		{RequestID: "c", Model: "ollama/llama3"},
	}

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantIDs   []string
		wantModel string
		wantLimit int
	}{
		{name: "all models", query: "", wantCode: http.StatusOK, wantIDs: []string{"a", "b", "c"}},
		{name: "one model", query: "?model=ollama/llama3&limit=10", wantCode: http.StatusOK,
			wantIDs: []string{"a", "c"}, wantModel: "ollama/llama3", wantLimit: 10},
		{name: "no match", query: "?model=gemini/pro", wantCode: http.StatusOK, wantIDs: []string{}, wantModel: "gemini/pro"},
		{name: "bad limit", query: "?limit=ten", wantCode: http.StatusBadRequest},
		{name: "negative limit", query: "?limit=-1", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeRecordStore{records: records}
			w := httptest.NewRecorder()
			newCompletionsRouter(store).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/completions"+tt.query, nil))

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			var body struct {
				Data []model.CompletionRecord `json:"data"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			ids := []string{}
			for _, r := range body.Data {
				ids = append(ids, r.RequestID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantModel, store.lastModel)
			assert.Equal(t, tt.wantLimit, store.lastLimit)
		})
	}
}
