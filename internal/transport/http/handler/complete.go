package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"openlegalrag/internal/app"
	"openlegalrag/internal/rag"
	"openlegalrag/internal/transport/http/response"
)

type CompletionService interface {
	ListModels(ctx context.Context) []string
	Validate(ctx context.Context, req app.CompleteRequest) (*app.CompleteInput, error)
	Stream(ctx context.Context, in *app.CompleteInput, handlers app.StreamHandlers) (*app.CompleteResult, error)
}

type CompleteHandler struct {
	service CompletionService
}

func NewCompleteHandler(service CompletionService) *CompleteHandler {
	return &CompleteHandler{service: service}
}

func (h *CompleteHandler) Models(c *gin.Context) {
	response.OK(c, h.service.ListModels(c.Request.Context()))
}

// Complete streams the answer as server-sent events: one "sources" event,
// unnamed events carrying text fragments, then "done" or "error".
func (h *CompleteHandler) Complete(c *gin.Context) {
	var req app.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	input, err := h.service.Validate(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "validate request failed")
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	send := func(event, data string) error {
		if err := writeEvent(c.Writer, event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	result, err := h.service.Stream(c.Request.Context(), input, app.StreamHandlers{
		OnSources: func(sources []rag.Source) error {
			if sources == nil {
				sources = []rag.Source{}
			}
			payload, err := json.Marshal(sources)
			if err != nil {
				return err
			}
			return send("sources", string(payload))
		},
		OnChunk: func(chunk string) error {
			return send("", chunk)
		},
	})
	if err != nil {
		if c.Request.Context().Err() != nil {
			return
		}
		message := "Could not run completion."
		var completionErr *app.CompletionError
		if errors.As(err, &completionErr) {
			message = completionErr.Error()
		}
		_ = send("error", message)
		return
	}

	payload, _ := json.Marshal(gin.H{"request_id": result.RequestID, "usage": result.Usage})
	_ = send("done", string(payload))
}

// writeEvent writes one SSE event. Multi-line data is split over several
// data fields, which clients join back with newlines.
func writeEvent(w gin.ResponseWriter, event, data string) error {
	var b strings.Builder
	if event != "" {
		b.WriteString("event: ")
		b.WriteString(event)
		b.WriteString("\n")
	}
	for _, line := range strings.Split(strings.ReplaceAll(data, "\r\n", "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	_, err := w.WriteString(b.String())
	return err
}
