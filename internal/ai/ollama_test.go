package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Stream  bool                   `json:"stream"`
			Options map[string]interface{} `json:"options"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 64, body.Options["num_predict"])
		if !body.Stream {
			fmt.Fprint(w, `{"message":{"content":"full answer"},"done":true,"prompt_eval_count":7,"eval_count":2}`)
			return
		}
		fmt.Fprintln(w, `{"message":{"content":"A"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"B"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true,"prompt_eval_count":7,"eval_count":2}`)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"phi3:latest"},{"name":"llama3:8b"}]}`)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		out := make([][]float32, len(body.Input))
		for i := range body.Input {
			out[i] = []float32{float32(len(body.Input[i])), 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": out})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaComplete(t *testing.T) {
	client := NewOllamaClient(newOllamaServer(t).URL)

	out, err := client.Complete(context.Background(), "llama3:8b", []ChatMessage{{Role: "user", Content: "hi"}}, WithMaxTokens(64))
	require.NoError(t, err)
	assert.Equal(t, "full answer", out.Text)
	assert.Equal(t, Usage{PromptTokens: 7, CompletionTokens: 2, TotalTokens: 9}, out.Usage)
}

func TestOllamaStream(t *testing.T) {
	client := NewOllamaClient(newOllamaServer(t).URL)

	var chunks []string
	out, err := client.Stream(context.Background(), "llama3:8b", []ChatMessage{{Role: "user", Content: "hi"}},
		func(chunk string) error {
			chunks = append(chunks, chunk)
			return nil
		}, WithMaxTokens(64))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, chunks)
	assert.Equal(t, "AB", out.Text)
	assert.Equal(t, 9, out.Usage.TotalTokens)
}

func TestOllamaListModelsAndEmbed(t *testing.T) {
	client := NewOllamaClient(newOllamaServer(t).URL)

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:8b", "phi3:latest"}, models)

	vectors, err := client.EmbedBatch(context.Background(), "nomic-embed-text", []string{"a", "abc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}}, vectors)
}
