package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"openlegalrag/internal/model"
	"openlegalrag/internal/transport/http/response"
)

// CompletionRecordStore reads the completion audit trail.
type CompletionRecordStore interface {
	GetByRequestID(requestID string) (*model.CompletionRecord, error)
	ListRecentByModel(modelID string, limit int) ([]model.CompletionRecord, error)
}

type CompletionsHandler struct {
	store CompletionRecordStore
}

func NewCompletionsHandler(store CompletionRecordStore) *CompletionsHandler {
	return &CompletionsHandler{store: store}
}

func (h *CompletionsHandler) Get(c *gin.Context) {
	record, err := h.store.GetByRequestID(c.Param("request_id"))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get completion record failed")
		return
	}
	if record == nil {
		response.Error(c, http.StatusNotFound, response.CodeNotFound, "completion record not found")
		return
	}
	response.OK(c, record)
}

// List returns the newest records, optionally for one model. limit defaults
// to 50 and is capped at 200 by the store.
func (h *CompletionsHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.store.ListRecentByModel(c.Query("model"), limit)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list completion records failed")
		return
	}
	if records == nil {
		records = []model.CompletionRecord{}
	}
	response.OK(c, records)
}
